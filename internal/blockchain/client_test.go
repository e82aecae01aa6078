package blockchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestClientConfig_Validation 测试客户端配置验证
func TestClientConfig_Validation(t *testing.T) {
	t.Run("empty RPC URLs", func(t *testing.T) {
		cfg := &ClientConfig{
			ChainID: 1,
			RPCURLs: []string{},
		}

		_, err := NewClient(cfg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "at least one RPC URL is required")
	})
}

// TestClient_Errors 测试错误类型
func TestClient_Errors(t *testing.T) {
	assert.Equal(t, "no healthy RPC endpoint available", ErrNoHealthyRPC.Error())
	assert.Equal(t, "transaction not found", ErrTxNotFound.Error())
}
