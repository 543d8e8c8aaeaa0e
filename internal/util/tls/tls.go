/*
Copyright 2026 The rowforge Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// This file provides tls utilities for talking to self-hosted gateways.

package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Certificates names the client-side certificate material. All fields are
// optional; the zero value means the system defaults.
type Certificates struct {
	CertFile   string // client certificate, paired with KeyFile
	KeyFile    string
	CaCertFile string // CA bundle for verifying the gateway
	Insecure   bool   // skip server verification, overrides CaCertFile
}

func (c Certificates) IsEmpty() bool {
	return c == Certificates{}
}

// ClientConfig builds a *tls.Config for dialing a gateway that uses a
// private CA or requires mutual TLS.
func ClientConfig(certs Certificates) (*tls.Config, error) {
	var tlsConf tls.Config
	if certs.CertFile != "" {
		certificate, err := tls.LoadX509KeyPair(certs.CertFile, certs.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("ClientConfig: LoadX509KeyPair failed: %v", err) // pragma: allowlist secret
		}
		tlsConf.Certificates = []tls.Certificate{certificate}
	}

	if certs.Insecure {
		tlsConf.InsecureSkipVerify = true
	} else if certs.CaCertFile != "" {
		ca, err := os.ReadFile(certs.CaCertFile)
		if err != nil {
			return nil, fmt.Errorf("ClientConfig: Could not read CA certificate file: %v", err) // pragma: allowlist secret
		}
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM(ca); !ok {
			return nil, fmt.Errorf("ClientConfig: AppendCertsFromPEM failed") // pragma: allowlist secret
		}
		tlsConf.RootCAs = certPool
	}
	return &tlsConf, nil
}
