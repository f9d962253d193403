package traefik

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Cipher suites allowed for TLS 1.2 clients. TLS 1.3 suites are not
// configurable.
var DefaultCipherSuites = []string{
	"TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384",
	"TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384",
	"TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305",
	"TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305",
	"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256",
	"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256",
}

// DynamicTLS returns the TLS descriptor with the default cipher policy and
// no static certificates.
func DynamicTLS() DynamicConfig {
	return DynamicConfig{
		TLS: TLSConfig{
			Options: map[string]TLSOptions{
				"default": {
					MinVersion:   "VersionTLS12",
					CipherSuites: append([]string(nil), DefaultCipherSuites...),
				},
			},
		},
	}
}

// StaticCertificate is the certificate pair mounted from the certs dir.
func StaticCertificate() Certificate {
	return Certificate{
		CertFile: CertsDir + "/cert.pem",
		KeyFile:  CertsDir + "/key.pem",
	}
}

// RenderDynamic encodes a dynamic configuration as YAML.
func RenderDynamic(cfg DynamicConfig) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("render dynamic config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("render dynamic config: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseDynamic decodes a dynamic configuration file.
func ParseDynamic(data []byte) (DynamicConfig, error) {
	var cfg DynamicConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DynamicConfig{}, fmt.Errorf("parse dynamic config: %w", err)
	}
	return cfg, nil
}
