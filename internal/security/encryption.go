// Package security encrypts stored push credentials at rest. Key blobs
// handed to us by browsers are opaque secrets; losing the database must
// not hand out working delivery credentials.
package security

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Cipher encrypts and decrypts small credential strings.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// Plaintext is the pass-through cipher used in development and tests,
// and when no KMS key is configured.
type Plaintext struct{}

func (Plaintext) Encrypt(_ context.Context, plaintext string) (string, error) {
	return plaintext, nil
}

func (Plaintext) Decrypt(_ context.Context, ciphertext string) (string, error) {
	return ciphertext, nil
}

// KMSCipher encrypts credentials with an AWS KMS key.
type KMSCipher struct {
	client *kms.Client
	keyID  string
}

// NewKMSCipher builds a cipher from the ambient AWS configuration and
// the AWS_KMS_KEY_ID environment variable. When no key is configured it
// returns the plaintext cipher so local setups keep working.
func NewKMSCipher(ctx context.Context) (Cipher, error) {
	keyID := os.Getenv("AWS_KMS_KEY_ID")
	if keyID == "" {
		slog.Warn("AWS_KMS_KEY_ID not set, storing push credentials unencrypted")
		return Plaintext{}, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	slog.Info("Initialized KMS credential cipher", "key_id", keyID)
	return &KMSCipher{client: kms.NewFromConfig(cfg), keyID: keyID}, nil
}

func (c *KMSCipher) Encrypt(ctx context.Context, plaintext string) (string, error) {
	result, err := c.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(c.keyID),
		Plaintext: []byte(plaintext),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encrypt credential: %w", err)
	}
	return base64.StdEncoding.EncodeToString(result.CiphertextBlob), nil
}

func (c *KMSCipher) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode encrypted credential: %w", err)
	}
	result, err := c.client.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return string(result.Plaintext), nil
}
