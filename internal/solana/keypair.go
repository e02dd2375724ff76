package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretspb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/mr-tron/base58"
)

// SecretManagerScheme prefixes keypair references stored in GCP Secret
// Manager, e.g. gcpsm://projects/p/secrets/mint-authority/versions/latest.
const SecretManagerScheme = "gcpsm://"

// KeypairSize is the length of a Solana keypair (seed + public key).
const KeypairSize = 64

var ErrInvalidKeypair = errors.New("invalid keypair")

// LoadKeypair resolves ref to an account. ref is a file path or a
// gcpsm:// secret version name. The content may be a Solana CLI JSON array
// or a base58 string.
func LoadKeypair(ctx context.Context, ref string) (types.Account, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return types.Account{}, fmt.Errorf("%w: no keypair configured", ErrInvalidKeypair)
	}

	var (
		data []byte
		err  error
	)
	if name, ok := strings.CutPrefix(ref, SecretManagerScheme); ok {
		data, err = accessSecret(ctx, name)
	} else {
		data, err = os.ReadFile(ref)
		if err != nil {
			err = fmt.Errorf("read keypair file: %w", err)
		}
	}
	if err != nil {
		return types.Account{}, err
	}

	raw, err := DecodeKeypair(data)
	if err != nil {
		return types.Account{}, err
	}
	acc, err := types.AccountFromBytes(raw)
	if err != nil {
		return types.Account{}, fmt.Errorf("%w: %v", ErrInvalidKeypair, err)
	}
	return acc, nil
}

func accessSecret(ctx context.Context, name string) ([]byte, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("secret manager client: %w", err)
	}
	defer client.Close()

	resp, err := client.AccessSecretVersion(ctx, &secretspb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return nil, fmt.Errorf("access secret version %s: %w", name, err)
	}
	if resp.GetPayload() == nil {
		return nil, fmt.Errorf("secret version %s has no payload", name)
	}
	return resp.GetPayload().GetData(), nil
}

// DecodeKeypair accepts a JSON array of 64 numbers (solana-keygen output) or
// a base58 string of 64 bytes.
func DecodeKeypair(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKeypair)
	}

	var raw []byte
	if trimmed[0] == '[' {
		var ints []int
		if err := json.Unmarshal(trimmed, &ints); err != nil {
			return nil, fmt.Errorf("%w: not a JSON number array: %v", ErrInvalidKeypair, err)
		}
		raw = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: byte out of range at %d: %d", ErrInvalidKeypair, i, v)
			}
			raw[i] = byte(v)
		}
	} else {
		var err error
		raw, err = base58.Decode(string(trimmed))
		if err != nil {
			return nil, fmt.Errorf("%w: not base58: %v", ErrInvalidKeypair, err)
		}
	}

	if len(raw) != KeypairSize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKeypair, KeypairSize, len(raw))
	}
	return raw, nil
}

// EncodeKeypairJSON renders a keypair the way solana-keygen writes it.
func EncodeKeypairJSON(raw []byte) ([]byte, error) {
	ints := make([]int, len(raw))
	for i, b := range raw {
		ints[i] = int(b)
	}
	return json.Marshal(ints)
}

// GenerateKeypairFile writes a new keypair to path and returns its address.
// An existing file is never overwritten.
func GenerateKeypairFile(path string) (string, error) {
	acc := types.NewAccount()
	data, err := EncodeKeypairJSON(acc.PrivateKey)
	if err != nil {
		return "", err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("create keypair dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create keypair file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("write keypair file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write keypair file: %w", err)
	}
	return acc.PublicKey.ToBase58(), nil
}
