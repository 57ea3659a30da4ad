package api

import (
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/seqlab/run-uploader/internal/uploaderr"
)

// ErrAlreadyExists indicates the server refused to create a duplicate.
var ErrAlreadyExists = errors.New("resource already exists")

// StatusError is a non-success answer from the server.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is makes a 409 Conflict match ErrAlreadyExists.
func (e *StatusError) Is(target error) bool {
	return target == ErrAlreadyExists && e.StatusCode == nethttp.StatusConflict
}

// IsAlreadyExists reports whether err means the resource is already there.
//
// It detects:
//  1. a wrapped ErrAlreadyExists or an HTTP 409 StatusError
//  2. messages containing "already exists" or "duplicate"
func IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAlreadyExists) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate")
}

// ClassifyAuthError turns a failed token request into an auth error with a
// reason the user can act on. The OAuth2 error code is used when the server
// sent one; otherwise the message text decides.
func ClassifyAuthError(err error) error {
	if err == nil {
		return nil
	}
	if uploaderr.KindOf(err) == uploaderr.KindAuth {
		return err
	}

	reason := uploaderr.AuthUnknown
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode != "" {
		switch re.ErrorCode {
		case "invalid_grant":
			reason = uploaderr.AuthBadCredentials
		case "invalid_client", "unauthorized_client":
			reason = uploaderr.AuthBadClientID
			if strings.Contains(strings.ToLower(re.ErrorDescription), "secret") {
				reason = uploaderr.AuthBadClientSecret
			}
		}
	} else {
		reason = reasonFromMessage(err.Error())
	}

	e := uploaderr.Wrap(uploaderr.KindAuth, err, "%s", authHint(reason))
	e.AuthReason = reason
	return e
}

func reasonFromMessage(msg string) uploaderr.AuthReason {
	switch {
	case strings.Contains(msg, "Bad credentials"):
		return uploaderr.AuthBadCredentials
	case strings.Contains(msg, "clientId does not exist"):
		return uploaderr.AuthBadClientID
	case strings.Contains(msg, "Bad client credentials"):
		return uploaderr.AuthBadClientSecret
	}
	return uploaderr.AuthUnknown
}

func authHint(reason uploaderr.AuthReason) string {
	switch reason {
	case uploaderr.AuthBadCredentials:
		return "username or password rejected"
	case uploaderr.AuthBadClientID:
		return "client id not recognised by the server"
	case uploaderr.AuthBadClientSecret:
		return "client secret rejected"
	}
	return "could not authenticate"
}
