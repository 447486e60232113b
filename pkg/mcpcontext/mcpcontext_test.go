package mcpcontext

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
)

func TestServerSessionContext(t *testing.T) {
	t.Run("missing returns nil", func(t *testing.T) {
		assert.Nil(t, GetServerSession(context.Background()))
	})

	t.Run("typed nil round-trips", func(t *testing.T) {
		ctx := WithServerSession(context.Background(), (*mcp.ServerSession)(nil))
		assert.Nil(t, GetServerSession(ctx))
	})
}

func TestTransportSessionIDContext(t *testing.T) {
	assert.Empty(t, GetTransportSessionID(context.Background()))

	ctx := WithTransportSessionID(context.Background(), "t1")
	assert.Equal(t, "t1", GetTransportSessionID(ctx))
}

func TestTokenContext(t *testing.T) {
	assert.Empty(t, GetToken(context.Background()))

	ctx := WithToken(context.Background(), "tok")
	assert.Equal(t, "tok", GetToken(ctx))
}
