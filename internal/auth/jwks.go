package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
)

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// FetchJWKS returns a FetchFunc that downloads the identity provider's JWKS
// document and decodes the RSA keys.
func FetchJWKS(url string, client *http.Client) FetchFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) (map[string]*rsa.PublicKey, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("requesting jwks: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
		}

		var doc jwks
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding jwks: %w", err)
		}

		keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
		for _, k := range doc.Keys {
			if k.Kty != "RSA" || k.Kid == "" {
				continue
			}
			pub, err := decodeRSAKey(k)
			if err != nil {
				return nil, fmt.Errorf("decoding key %q: %w", k.Kid, err)
			}
			keys[k.Kid] = pub
		}

		if len(keys) == 0 {
			return nil, fmt.Errorf("jwks document contains no usable RSA keys")
		}
		return keys, nil
	}
}

func decodeRSAKey(k jwk) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}

	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, fmt.Errorf("zero exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: e,
	}, nil
}
