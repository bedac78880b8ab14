// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package tls generates and loads the mTLS material for the control endpoint.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/oops"
)

const (
	caName = "root-ca"
	// ServerName is the SAN every server certificate carries.
	ServerName = "resolverd"
)

// CA holds a certificate authority certificate and private key.
type CA struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// Role selects the extended key usage of a leaf certificate.
type Role int

// Leaf certificate roles.
const (
	RoleServer Role = iota
	RoleClient
)

// Cert holds a leaf certificate signed by the CA.
type Cert struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
	Name        string
}

// GenerateCA creates a root CA. The instance identifier is embedded in
// the CN ("resolverd CA {instance}") and a resolverd://instance/{instance} URI SAN.
func GenerateCA(instance string) (*CA, error) {
	key, serial, err := newKeyAndSerial()
	if err != nil {
		return nil, err
	}
	uri, err := url.Parse("resolverd://instance/" + instance)
	if err != nil {
		return nil, oops.In("tls").With("instance", instance).Wrapf(err, "build instance URI")
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"resolverd"},
			CommonName:   "resolverd CA " + instance,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		URIs:                  []*url.URL{uri},
	}
	cert, err := sign(template, template, key, key)
	if err != nil {
		return nil, err
	}
	return &CA{Certificate: cert, PrivateKey: key}, nil
}

// GenerateCert creates a leaf certificate for name signed by ca.
func GenerateCert(ca *CA, name string, role Role) (*Cert, error) {
	key, serial, err := newKeyAndSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"resolverd"},
			CommonName:   name,
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().AddDate(1, 0, 0),
		KeyUsage:  x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	switch role {
	case RoleServer:
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
		template.DNSNames = []string{"localhost", ServerName}
		template.IPAddresses = []net.IP{net.ParseIP("127.0.0.1"), net.IPv6loopback}
	case RoleClient:
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	default:
		return nil, oops.In("tls").Code("INVALID_ROLE").With("role", int(role)).Errorf("unknown certificate role")
	}

	cert, err := sign(template, ca.Certificate, key, ca.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &Cert{Certificate: cert, PrivateKey: key, Name: name}, nil
}

func newKeyAndSerial() (*ecdsa.PrivateKey, *big.Int, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, oops.In("tls").Wrapf(err, "generate key")
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, oops.In("tls").Wrapf(err, "generate serial")
	}
	return key, serial, nil
}

func sign(template, parent *x509.Certificate, key, signer *ecdsa.PrivateKey) (*x509.Certificate, error) {
	der, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, signer)
	if err != nil {
		return nil, oops.In("tls").With("cn", template.Subject.CommonName).Wrapf(err, "create certificate")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, oops.In("tls").Wrapf(err, "parse certificate")
	}
	return cert, nil
}

// Save writes the CA as root-ca.{crt,key} and each leaf as {name}.{crt,key}.
func Save(certsDir string, ca *CA, leaves ...*Cert) error {
	if err := os.MkdirAll(certsDir, 0o700); err != nil {
		return oops.In("tls").With("dir", certsDir).Wrapf(err, "create certs directory")
	}
	if err := savePair(certsDir, caName, ca.Certificate, ca.PrivateKey); err != nil {
		return err
	}
	for _, leaf := range leaves {
		if err := savePair(certsDir, leaf.Name, leaf.Certificate, leaf.PrivateKey); err != nil {
			return err
		}
	}
	return nil
}

func savePair(dir, name string, cert *x509.Certificate, key *ecdsa.PrivateKey) error {
	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return oops.In("tls").With("name", name).Wrapf(err, "marshal key")
	}
	if err := writePEM(filepath.Join(dir, name+".crt"), "CERTIFICATE", cert.Raw); err != nil {
		return err
	}
	return writePEM(filepath.Join(dir, name+".key"), "EC PRIVATE KEY", keyBytes)
}

func writePEM(path, blockType string, der []byte) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(filepath.Clean(path), data, 0o600); err != nil {
		return oops.In("tls").With("path", path).Wrapf(err, "write %s", blockType)
	}
	return nil
}

// LoadCA loads the CA saved by Save.
func LoadCA(certsDir string) (*CA, error) {
	cert, err := readCert(filepath.Join(certsDir, caName+".crt"))
	if err != nil {
		return nil, err
	}
	keyPath := filepath.Clean(filepath.Join(certsDir, caName+".key"))
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, oops.In("tls").With("path", keyPath).Wrapf(err, "read CA key")
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, oops.In("tls").Code("INVALID_PEM").With("path", keyPath).Errorf("decode CA key PEM")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, oops.In("tls").With("path", keyPath).Wrapf(err, "parse CA key")
	}
	return &CA{Certificate: cert, PrivateKey: key}, nil
}

func readCert(path string) (*x509.Certificate, error) {
	path = filepath.Clean(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.In("tls").With("path", path).Wrapf(err, "read certificate")
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, oops.In("tls").Code("INVALID_PEM").With("path", path).Errorf("decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, oops.In("tls").With("path", path).Wrapf(err, "parse certificate")
	}
	return cert, nil
}

func loadPool(certsDir string) (*x509.CertPool, error) {
	caPath := filepath.Clean(filepath.Join(certsDir, caName+".crt"))
	data, err := os.ReadFile(caPath)
	if err != nil {
		return nil, oops.In("tls").With("path", caPath).Wrapf(err, "read CA certificate")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, oops.In("tls").Code("INVALID_PEM").With("path", caPath).Errorf("no certificates in CA file")
	}
	return pool, nil
}

func loadPair(certsDir, name string) (cryptotls.Certificate, error) {
	certPath := filepath.Clean(filepath.Join(certsDir, name+".crt"))
	keyPath := filepath.Clean(filepath.Join(certsDir, name+".key"))
	pair, err := cryptotls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return cryptotls.Certificate{}, oops.In("tls").With("name", name).Wrapf(err, "load key pair")
	}
	return pair, nil
}

// ServerConfig returns an mTLS server config for the named certificate
// requiring client certificates signed by the CA.
func ServerConfig(certsDir, name string) (*cryptotls.Config, error) {
	pair, err := loadPair(certsDir, name)
	if err != nil {
		return nil, err
	}
	pool, err := loadPool(certsDir)
	if err != nil {
		return nil, err
	}
	return &cryptotls.Config{
		Certificates: []cryptotls.Certificate{pair},
		ClientCAs:    pool,
		ClientAuth:   cryptotls.RequireAndVerifyClientCert,
		MinVersion:   cryptotls.VersionTLS13,
	}, nil
}

// ClientConfig returns an mTLS client config for the named certificate
// verifying the server against the CA.
func ClientConfig(certsDir, name string) (*cryptotls.Config, error) {
	pair, err := loadPair(certsDir, name)
	if err != nil {
		return nil, err
	}
	pool, err := loadPool(certsDir)
	if err != nil {
		return nil, err
	}
	return &cryptotls.Config{
		Certificates: []cryptotls.Certificate{pair},
		RootCAs:      pool,
		MinVersion:   cryptotls.VersionTLS13,
		ServerName:   ServerName,
	}, nil
}
