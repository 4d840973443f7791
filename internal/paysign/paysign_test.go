package paysign

import (
	"context"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"testing"
	"time"

	"aigc-service/internal/biz"

	aigcErrors "aigc-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSerial = "PLATFORM-SERIAL-01"

var testAPIKey = []byte("0123456789abcdef0123456789abcdef")

func newTestVerifier(t *testing.T, key *rsa.PrivateKey, now time.Time) *Verifier {
	t.Helper()
	return &Verifier{
		publicKey:   &key.PublicKey,
		serial:      testSerial,
		apiV3Key:    testAPIKey,
		freshWindow: 5 * time.Minute,
		now:         func() time.Time { return now },
		log:         log.NewHelper(log.NewStdLogger(io.Discard)),
	}
}

// buildNotification 按提供方口径构造一条完整回调：密文封包 + 签名
func buildNotification(t *testing.T, key *rsa.PrivateKey, notice *biz.SettleNotice, ts time.Time) *biz.InboundNotification {
	t.Helper()

	plain, err := json.Marshal(notice)
	require.NoError(t, err)

	block, err := aes.NewCipher(testAPIKey)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	nonce := "123456789012"
	ciphertext := gcm.Seal(nil, []byte(nonce), plain, []byte("transaction"))

	body, err := json.Marshal(map[string]interface{}{
		"resource": map[string]string{
			"algorithm":       "AEAD_AES_256_GCM",
			"ciphertext":      base64.StdEncoding.EncodeToString(ciphertext),
			"nonce":           nonce,
			"associated_data": "transaction",
		},
	})
	require.NoError(t, err)

	timestamp := strconv.FormatInt(ts.Unix(), 10)
	signNonce := "sign-nonce"
	message := fmt.Sprintf("%s\n%s\n%s\n", timestamp, signNonce, body)
	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	require.NoError(t, err)

	return &biz.InboundNotification{
		Timestamp: timestamp,
		Nonce:     signNonce,
		Serial:    testSerial,
		Signature: base64.StdEncoding.EncodeToString(sig),
		Body:      body,
	}
}

func TestVerifyAndDecrypt_Roundtrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now()
	v := newTestVerifier(t, key, now)

	want := &biz.SettleNotice{
		MerchantOrderID:       "pay_acc1_1",
		ExternalTransactionID: "4200001",
		TradeState:            "SUCCESS",
		Amount:                500,
	}
	n := buildNotification(t, key, want, now)

	got, err := v.VerifyAndDecrypt(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestVerifyAndDecrypt_StaleTimestamp(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now()
	v := newTestVerifier(t, key, now)

	n := buildNotification(t, key, &biz.SettleNotice{MerchantOrderID: "x"}, now.Add(-6*time.Minute))

	_, err = v.VerifyAndDecrypt(context.Background(), n)
	assert.True(t, errors.Is(err, aigcErrors.ErrReplaySuspected))
}

func TestVerifyAndDecrypt_FutureTimestamp(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now()
	v := newTestVerifier(t, key, now)

	n := buildNotification(t, key, &biz.SettleNotice{MerchantOrderID: "x"}, now.Add(6*time.Minute))

	_, err = v.VerifyAndDecrypt(context.Background(), n)
	assert.True(t, errors.Is(err, aigcErrors.ErrReplaySuspected))
}

func TestVerifyAndDecrypt_SerialMismatch(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now()
	v := newTestVerifier(t, key, now)

	n := buildNotification(t, key, &biz.SettleNotice{MerchantOrderID: "x"}, now)
	n.Serial = "OTHER-SERIAL"

	_, err = v.VerifyAndDecrypt(context.Background(), n)
	assert.True(t, errors.Is(err, aigcErrors.ErrSignatureInvalid))
}

func TestVerifyAndDecrypt_TamperedBody(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now()
	v := newTestVerifier(t, key, now)

	n := buildNotification(t, key, &biz.SettleNotice{MerchantOrderID: "x", Amount: 500}, now)
	n.Body = append(n.Body, ' ')

	_, err = v.VerifyAndDecrypt(context.Background(), n)
	assert.True(t, errors.Is(err, aigcErrors.ErrSignatureInvalid))
}

func TestVerifyAndDecrypt_WrongSigner(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now()
	v := newTestVerifier(t, key, now)

	// 报文由别人的私钥签出
	n := buildNotification(t, otherKey, &biz.SettleNotice{MerchantOrderID: "x"}, now)

	_, err = v.VerifyAndDecrypt(context.Background(), n)
	assert.True(t, errors.Is(err, aigcErrors.ErrSignatureInvalid))
}

func TestVerifyAndDecrypt_BadResourceNonceLength(t *testing.T) {
	// 签名合法但封包 nonce 长度不对的报文必须收到解密错误，不能崩溃
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now()
	v := newTestVerifier(t, key, now)

	plain, err := json.Marshal(&biz.SettleNotice{MerchantOrderID: "x", Amount: 500})
	require.NoError(t, err)
	block, err := aes.NewCipher(testAPIKey)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)
	ciphertext := gcm.Seal(nil, []byte("123456789012"), plain, []byte("transaction"))

	body, err := json.Marshal(map[string]interface{}{
		"resource": map[string]string{
			"algorithm":       "AEAD_AES_256_GCM",
			"ciphertext":      base64.StdEncoding.EncodeToString(ciphertext),
			"nonce":           "short",
			"associated_data": "transaction",
		},
	})
	require.NoError(t, err)

	timestamp := strconv.FormatInt(now.Unix(), 10)
	signNonce := "sign-nonce"
	message := fmt.Sprintf("%s\n%s\n%s\n", timestamp, signNonce, body)
	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	require.NoError(t, err)

	n := &biz.InboundNotification{
		Timestamp: timestamp,
		Nonce:     signNonce,
		Serial:    testSerial,
		Signature: base64.StdEncoding.EncodeToString(sig),
		Body:      body,
	}

	_, err = v.VerifyAndDecrypt(context.Background(), n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonce")
}

func TestVerifyAndDecrypt_BadTimestampFormat(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	v := newTestVerifier(t, key, time.Now())
	n := &biz.InboundNotification{Timestamp: "not-a-number"}

	_, err = v.VerifyAndDecrypt(context.Background(), n)
	assert.True(t, errors.Is(err, aigcErrors.ErrSignatureInvalid))
}
