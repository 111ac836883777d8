package encryption

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// encryptionContext binds ciphertexts to this service so a key shared across
// services cannot decrypt another service's data.
var encryptionContext = map[string]string{
	"Service": "profiler-backend",
	"Purpose": "chat-content",
}

type KMSClient struct {
	client *kms.Client
	keyID  string
}

// NewKMSClient builds a client from KMS_KEY_ID. Returns (nil, nil) when the
// variable is unset: content encryption is optional and callers treat a nil
// client as disabled.
func NewKMSClient(ctx context.Context) (*KMSClient, error) {
	keyID := os.Getenv("KMS_KEY_ID")
	if keyID == "" {
		return nil, nil
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %v", err)
	}

	return &KMSClient{
		client: kms.NewFromConfig(cfg),
		keyID:  keyID,
	}, nil
}

// Enabled reports whether content encryption is configured.
func (k *KMSClient) Enabled() bool {
	return k != nil && k.keyID != ""
}

// EncryptContent encrypts chat content, returning base64 ciphertext.
func (k *KMSClient) EncryptContent(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	result, err := k.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(k.keyID),
		Plaintext:         []byte(plaintext),
		EncryptionContext: encryptionContext,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encrypt content: %v", err)
	}

	return base64.StdEncoding.EncodeToString(result.CiphertextBlob), nil
}

// DecryptContent decrypts base64 ciphertext produced by EncryptContent.
func (k *KMSClient) DecryptContent(ctx context.Context, ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %v", err)
	}

	result, err := k.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob:    blob,
		EncryptionContext: encryptionContext,
	})
	if err != nil {
		return "", fmt.Errorf("failed to decrypt content: %v", err)
	}

	return string(result.Plaintext), nil
}
