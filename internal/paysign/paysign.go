package paysign

import (
	"context"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strconv"
	"time"

	"aigc-service/internal/biz"
	"aigc-service/internal/conf"

	aigcErrors "aigc-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// Verifier 支付回调验签与解密。
// 验签顺序固定：时间戳新鲜度、证书序列号、RSA-SHA256 签名、AES-256-GCM 解密。
// 任何一步失败都拒绝整个回调，绝不入账。
type Verifier struct {
	publicKey   *rsa.PublicKey
	serial      string
	apiV3Key    []byte
	freshWindow time.Duration
	now         func() time.Time
	log         *log.Helper
}

// NewVerifier 创建回调验签器（返回 biz.NotifyVerifier 接口）。
// 未配置平台证书或密钥时返回拒绝一切回调的验签器，服务照常启动。
func NewVerifier(c *conf.Bootstrap, ec *biz.EngineConfig, logger log.Logger) (biz.NotifyVerifier, error) {
	cfg := c.Payment
	if cfg == nil || cfg.PlatformCert == "" || cfg.ApiV3Key == "" {
		log.NewHelper(logger).Warn("payment platform cert not configured, all notifications will be rejected")
		return rejectAllVerifier{}, nil
	}

	pub, err := parsePublicKey(cfg.PlatformCert)
	if err != nil {
		return nil, fmt.Errorf("parse platform cert failed: %w", err)
	}
	if len(cfg.ApiV3Key) != 32 {
		return nil, fmt.Errorf("api v3 key must be 32 bytes, got %d", len(cfg.ApiV3Key))
	}

	return &Verifier{
		publicKey:   pub,
		serial:      cfg.PlatformSerial,
		apiV3Key:    []byte(cfg.ApiV3Key),
		freshWindow: ec.FreshWindow,
		now:         time.Now,
		log:         log.NewHelper(logger),
	}, nil
}

// rejectAllVerifier 证书缺失时的兜底验签器
type rejectAllVerifier struct{}

func (rejectAllVerifier) VerifyAndDecrypt(context.Context, *biz.InboundNotification) (*biz.SettleNotice, error) {
	return nil, aigcErrors.ErrSignatureInvalid
}

// notifyEnvelope 回调外层报文
type notifyEnvelope struct {
	Resource struct {
		Algorithm      string `json:"algorithm"`
		Ciphertext     string `json:"ciphertext"`
		Nonce          string `json:"nonce"`
		AssociatedData string `json:"associated_data"`
	} `json:"resource"`
}

// VerifyAndDecrypt 验签并解出入账通知
func (v *Verifier) VerifyAndDecrypt(_ context.Context, n *biz.InboundNotification) (*biz.SettleNotice, error) {
	ts, err := strconv.ParseInt(n.Timestamp, 10, 64)
	if err != nil {
		return nil, aigcErrors.ErrSignatureInvalid
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.freshWindow {
		return nil, aigcErrors.ErrReplaySuspected
	}

	if n.Serial != v.serial {
		v.log.Warnf("Notify serial mismatch: got=%s, want=%s", n.Serial, v.serial)
		return nil, aigcErrors.ErrSignatureInvalid
	}

	if err := v.verifySignature(n); err != nil {
		return nil, err
	}

	var env notifyEnvelope
	if err := json.Unmarshal(n.Body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal notify body failed: %w", err)
	}

	plain, err := v.decrypt(env.Resource.Ciphertext, env.Resource.Nonce, env.Resource.AssociatedData)
	if err != nil {
		return nil, err
	}

	var notice biz.SettleNotice
	if err := json.Unmarshal(plain, &notice); err != nil {
		return nil, fmt.Errorf("unmarshal settle notice failed: %w", err)
	}
	return &notice, nil
}

// verifySignature 验证 RSA-SHA256 签名，签名串为 "timestamp\nnonce\nbody\n"
func (v *Verifier) verifySignature(n *biz.InboundNotification) error {
	sig, err := base64.StdEncoding.DecodeString(n.Signature)
	if err != nil {
		return aigcErrors.ErrSignatureInvalid
	}

	message := fmt.Sprintf("%s\n%s\n%s\n", n.Timestamp, n.Nonce, n.Body)
	digest := sha256.Sum256([]byte(message))
	if err := rsa.VerifyPKCS1v15(v.publicKey, crypto.SHA256, digest[:], sig); err != nil {
		return aigcErrors.ErrSignatureInvalid
	}
	return nil
}

// decrypt AES-256-GCM 解密回调密文
func (v *Verifier) decrypt(ciphertextB64, nonce, associatedData string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext failed: %w", err)
	}

	block, err := aes.NewCipher(v.apiV3Key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("notify resource nonce length %d invalid", len(nonce))
	}

	plain, err := gcm.Open(nil, []byte(nonce), ciphertext, []byte(associatedData))
	if err != nil {
		return nil, fmt.Errorf("decrypt notify resource failed: %w", err)
	}
	return plain, nil
}

// parsePublicKey 从 PEM 解析平台证书公钥；兼容裸公钥与 X.509 证书两种格式
func parsePublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no pem block found")
	}

	if block.Type == "CERTIFICATE" {
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("certificate public key is not rsa")
		}
		return pub, nil
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not rsa")
	}
	return rsaPub, nil
}
