// Package sender implements the one-shot "type the TV's code, paste
// credentials" flow.
package sender

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/iplinks/iplinks-go/internal/credentials"
	apperrors "github.com/iplinks/iplinks-go/internal/errors"
	"github.com/iplinks/iplinks-go/internal/model"
	"github.com/iplinks/iplinks-go/internal/util"
)

var codePattern = regexp.MustCompile(`^\d{3}$`)

// API is the subset of the server client the sender uses.
type API interface {
	Connect(ctx context.Context, code string) error
	SubmitCredentials(ctx context.Context, code string, creds model.Credentials) error
}

type Sender struct {
	api      API
	announce bool
}

// New returns a Sender. When announce is set it marks the session connected
// before submitting so the receiver can show progress.
func New(api API, announce bool) *Sender {
	return &Sender{api: api, announce: announce}
}

// Send parses raw and delivers it to the session behind code.
func (s *Sender) Send(ctx context.Context, code, raw string) (*model.Credentials, error) {
	code = strings.TrimSpace(code)
	if !codePattern.MatchString(code) {
		return nil, apperrors.InvalidInput("code", "must be 3 digits")
	}

	creds := credentials.Parse(raw)
	if !creds.IsComplete() {
		return nil, apperrors.New(apperrors.ErrCodeMissingRequired, "host, username and password are required")
	}

	if s.announce {
		if err := s.api.Connect(ctx, code); err != nil {
			log.Warn().Err(err).Str("code", util.MaskCode(code)).Msg("connect failed, submitting anyway")
		}
	}

	if err := s.api.SubmitCredentials(ctx, code, creds); err != nil {
		return nil, err
	}

	log.Info().
		Str("code", util.MaskCode(code)).
		Str("host", creds.Host).
		Str("username", util.MaskSecret(creds.Username)).
		Msg("credentials sent")
	return &creds, nil
}
