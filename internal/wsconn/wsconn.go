// Package wsconn holds the thin dialer/URL-building helpers shared by the
// duplex stream client — kept separate from package stream so the
// gorilla/websocket dependency has one narrow entry point.
/*
 * Copyright (c) 2024-2026, KEI-Stream Authors. All rights reserved.
 */
package wsconn

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// BuildURL augments base with access_token/scopes/tenant_id query params,
// §4.5 "On connect() the URL is augmented...".
func BuildURL(base, accessToken, tenantID string, scopes []string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if accessToken != "" {
		q.Set("access_token", accessToken)
	}
	if tenantID != "" {
		q.Set("tenant_id", tenantID)
	}
	if len(scopes) > 0 {
		q.Set("scopes", strings.Join(scopes, " "))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Conn is the minimal surface stream.Client needs from a duplex transport.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
}

// Dial opens a WebSocket with the given permessage-deflate hint and a hard
// connect timeout (§4.5: "Timeout for connect = 10 s").
func Dial(ctx context.Context, url string, timeout time.Duration, extensions []string) (Conn, *DialResponse, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout:  timeout,
		EnableCompression: len(extensions) > 0,
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, resp, err := dialer.DialContext(dctx, url, nil)
	if err != nil {
		return nil, nil, err
	}
	return conn, &DialResponse{StatusCode: resp.StatusCode}, nil
}

// DialResponse avoids leaking *http.Response (and its body-close
// responsibility) past this package's boundary.
type DialResponse struct {
	StatusCode int
}
