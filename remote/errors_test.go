package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

type statusErr int

func (s statusErr) Error() string        { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) HTTPStatusCode() int { return int(s) }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"explicit", Transient(errors.New("boom")), true},
		{"wrapped explicit", fmt.Errorf("upload: %w", Transient(errors.New("boom"))), true},
		{"drive 429", &googleapi.Error{Code: 429}, true},
		{"drive 500", &googleapi.Error{Code: 500}, true},
		{"drive 503 wrapped", fmt.Errorf("create: %w", &googleapi.Error{Code: 503}), true},
		{"drive 403 rate limit", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, true},
		{"drive 403 forbidden", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "insufficientPermissions"}}}, false},
		{"drive 404", &googleapi.Error{Code: 404}, false},
		{"http 502", statusErr(502), true},
		{"http 429", statusErr(429), true},
		{"http 400", statusErr(400), false},
		{"ftp 421", &textproto.Error{Code: 421, Msg: "service not available"}, true},
		{"ftp 550", &textproto.Error{Code: 550, Msg: "no such file"}, false},
		{"net timeout", timeoutErr{}, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"cancelled transient", Transient(context.Canceled), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsAuthError(t *testing.T) {
	require.True(t, IsAuthError(fmt.Errorf("x: %w", ErrAuth)))
	require.True(t, IsAuthError(&googleapi.Error{Code: 401}))
	require.True(t, IsAuthError(statusErr(403)))
	require.True(t, IsAuthError(&textproto.Error{Code: 530}))
	require.False(t, IsAuthError(&googleapi.Error{Code: 500}))
	require.False(t, IsAuthError(errors.New("boom")))
}

func TestChunkSize(t *testing.T) {
	tests := []struct {
		size int64
		want int
	}{
		{0, 256 * KiB},
		{MiB - 1, 256 * KiB},
		{MiB, 1 * MiB},
		{10 * MiB, 1 * MiB},
		{10*MiB + 1, 5 * MiB},
		{100 * MiB, 5 * MiB},
		{100*MiB + 1, 10 * MiB},
		{5 << 30, 10 * MiB},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ChunkSize(tt.size), "size %d", tt.size)
	}
}
