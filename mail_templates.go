package account

import (
	"github.com/flosch/pongo2/v6"
	goerrors "github.com/goliatone/go-errors"
)

const (
	SubjectAccountVerification = "Account Verification"
	SubjectForgotPassword      = "Forgot Password"
)

const accountVerificationTemplate = `<html><p>Dear {{ name }},</p><p><a href='{{ url }}'>Click to activate your account</a></p></br><p>If you can't click the link, copy it and paste it into your browser's address bar.</p><p>{{ url }}</p></html>`

const forgotPasswordTemplate = `<html><p>Dear {{ name }},</p><p><a href='{{ url }}'>Click to renew your password</a></p></br><p>If you can't click the link, copy it and paste it into your browser's address bar.</p><p>{{ url }}</p></html>`

// MailTemplates holds the compiled message bodies
type MailTemplates struct {
	verification   *pongo2.Template
	forgotPassword *pongo2.Template
}

// NewMailTemplates compiles the built-in templates. Empty overrides keep
// the defaults.
func NewMailTemplates(verification, forgotPassword string) (*MailTemplates, error) {
	if verification == "" {
		verification = accountVerificationTemplate
	}
	if forgotPassword == "" {
		forgotPassword = forgotPasswordTemplate
	}

	vt, err := pongo2.FromString(verification)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to parse verification mail template")
	}

	ft, err := pongo2.FromString(forgotPassword)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to parse forgot password mail template")
	}

	return &MailTemplates{
		verification:   vt,
		forgotPassword: ft,
	}, nil
}

func (t *MailTemplates) renderVerification(name, url string) (string, error) {
	return render(t.verification, name, url)
}

func (t *MailTemplates) renderForgotPassword(name, url string) (string, error) {
	return render(t.forgotPassword, name, url)
}

func render(tpl *pongo2.Template, name, url string) (string, error) {
	out, err := tpl.Execute(pongo2.Context{
		"name": name,
		"url":  url,
	})
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render mail template")
	}
	return out, nil
}
