package gate

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/require"

	"github.com/raid-guild/x402-demo-server-go/store"
	"github.com/raid-guild/x402-demo-server-go/types"
)

const (
	testPayTo  = "0x0000000000000000000000000000000000000002"
	testAsset  = "0x0000000000000000000000000000000000000003"
	testAmount = "1000000"
)

func testRequirements() types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:            types.SchemeExact,
		Network:           "bsc",
		MaxAmountRequired: testAmount,
		Description:       "Test access - 1000000 WLFI",
		MimeType:          "application/json",
		PayTo:             testPayTo,
		MaxTimeoutSeconds: 5,
		Asset:             testAsset,
		Extra: types.Extra{
			Name:              "World Liberty Financial USD",
			Version:           "1",
			Decimals:          6,
			Symbol:            "WLFI",
			AuthorizationType: types.AuthorizationTypeEIP3009,
		},
	}
}

// signedPaymentHeader builds an X-PAYMENT header carrying a real EIP-3009
// transferWithAuthorization signature for the test requirements.
func signedPaymentHeader(t *testing.T, network string, chainID int64) (string, common.Address) {
	t.Helper()

	privateKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	signerAddress := crypto.PubkeyToAddress(privateKey.PublicKey)

	now := time.Now()
	validAfter := now.Add(-time.Minute).Unix()
	validBefore := now.Add(time.Minute).Unix()
	nonce := "0x" + strings.Repeat("ab", 32)

	nonceBytes, err := hex.DecodeString(strings.TrimPrefix(nonce, "0x"))
	require.NoError(t, err)
	var nonceArray [32]byte
	copy(nonceArray[:], nonceBytes)

	value, ok := new(big.Int).SetString(testAmount, 10)
	require.True(t, ok)

	bigChainID := big.NewInt(chainID)
	hexChainID := math.HexOrDecimal256(*bigChainID)

	requirements := testRequirements()
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              requirements.Extra.Name,
			Version:           requirements.Extra.Version,
			ChainId:           &hexChainID,
			VerifyingContract: requirements.Asset,
		},
		Message: apitypes.TypedDataMessage{
			"from":        signerAddress.Hex(),
			"to":          requirements.PayTo,
			"value":       value,
			"validAfter":  big.NewInt(validAfter),
			"validBefore": big.NewInt(validBefore),
			"nonce":       nonceArray,
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	require.NoError(t, err)
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	require.NoError(t, err)

	rawData := append(append([]byte("\x19\x01"), domainSeparator...), typedDataHash...)
	signature, err := crypto.Sign(crypto.Keccak256(rawData), privateKey)
	require.NoError(t, err)

	payload, err := json.Marshal(types.ExactPayload{
		Signature: "0x" + hex.EncodeToString(signature),
		Authorization: types.Authorization{
			From:        signerAddress.Hex(),
			To:          requirements.PayTo,
			Value:       testAmount,
			ValidAfter:  strconv.FormatInt(validAfter, 10),
			ValidBefore: strconv.FormatInt(validBefore, 10),
			Nonce:       nonce,
		},
	})
	require.NoError(t, err)

	return encodeHeader(t, types.PaymentPayload{
		X402Version: types.X402Version1,
		Scheme:      types.SchemeExact,
		Network:     types.Network(network),
		Payload:     payload,
	}), signerAddress
}

func encodeHeader(t *testing.T, payload types.PaymentPayload) string {
	t.Helper()

	payloadBytes, err := json.Marshal(payload)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(payloadBytes)
}

type mockFacilitator struct {
	mu          sync.Mutex
	verifyCalls int
	settleCalls int
	gotPayload  types.PaymentPayload
	gotReq      types.PaymentRequirements
	gotDeadline time.Time

	verify func(ctx context.Context, p types.PaymentPayload, r types.PaymentRequirements) (types.VerifyResponse, error)
	settle func(ctx context.Context, p types.PaymentPayload, r types.PaymentRequirements) (types.SettleResponse, error)
}

func (m *mockFacilitator) Verify(ctx context.Context, p types.PaymentPayload, r types.PaymentRequirements) (types.VerifyResponse, error) {
	m.mu.Lock()
	m.verifyCalls++
	m.gotPayload = p
	m.gotReq = r
	m.gotDeadline, _ = ctx.Deadline()
	m.mu.Unlock()

	if m.verify != nil {
		return m.verify(ctx, p, r)
	}
	return types.VerifyResponse{IsValid: true}, nil
}

func (m *mockFacilitator) Settle(ctx context.Context, p types.PaymentPayload, r types.PaymentRequirements) (types.SettleResponse, error) {
	m.mu.Lock()
	m.settleCalls++
	m.mu.Unlock()

	if m.settle != nil {
		return m.settle(ctx, p, r)
	}
	return types.SettleResponse{
		Success:     true,
		Transaction: "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060",
		Network:     string(r.Network),
	}, nil
}

type mockRecorder struct {
	mu          sync.Mutex
	settlements []store.Settlement
	err         error
}

func (m *mockRecorder) Record(ctx context.Context, s store.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settlements = append(m.settlements, s)
	return m.err
}
