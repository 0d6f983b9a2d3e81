package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"msg_client/client/chat/reconnect"
	"msg_client/client/common/infra/rest"
	"msg_client/client/common/transport/httpresp"
)

var ErrNoAccessToken = errors.New("refresh response has no access_token")

// NewHTTPRefresher returns a RefreshFunc that POSTs to endpoint with the
// current credential as bearer and reads {"access_token": "..."}.
func NewHTTPRefresher(endpoint string, current func() string) (reconnect.RefreshFunc, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid refresh endpoint %q", endpoint)
	}
	base := u.Scheme + "://" + u.Host
	path := u.EscapedPath()
	query := u.Query()
	client := rest.NewClient(base)

	return func(ctx context.Context) (string, error) {
		var out httpresp.TokenResponse
		err := client.Do(ctx, rest.Request{
			Method: http.MethodPost,
			Path:   path,
			Query:  query,
			Bearer: current(),
			JSON:   struct{}{},
		}, &out)
		if err != nil {
			return "", fmt.Errorf("refresh credential: %w", err)
		}
		token := strings.TrimSpace(out.AccessToken)
		if token == "" {
			return "", ErrNoAccessToken
		}
		return token, nil
	}, nil
}
