package ca

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"
)

// Fake is an in-process vendor. It keeps orders in memory, issues leaf
// certificates from a throwaway root and lets callers steer validation
// outcomes. It backs the memory mode of the binary and the tests.
type Fake struct {
	name string

	mu       sync.Mutex
	seq      int
	orders   map[string]*fakeOrder
	calls    map[Action]int
	rejectOn map[Action]string
	failOn   map[Action]error

	// AutoApprove marks validations valid on revalidate.
	AutoApprove bool

	rootKey  *ecdsa.PrivateKey
	root     *x509.Certificate
	rootPEM  string
	rootOnce sync.Once
	rootErr  error
}

type fakeOrder struct {
	status      string
	method      string
	identifiers []string
	validation  []Validation
	csr         []byte
	cert        string
}

// NewFake returns a fake vendor registered under name.
func NewFake(name string) *Fake {
	return &Fake{
		name:     name,
		orders:   make(map[string]*fakeOrder),
		calls:    make(map[Action]int),
		rejectOn: make(map[Action]string),
		failOn:   make(map[Action]error),
	}
}

func (f *Fake) Name() string { return f.name }

// Calls returns how many times action was invoked.
func (f *Fake) Calls(action Action) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[action]
}

// RejectNext makes the next call of action return a rejection envelope.
func (f *Fake) RejectNext(action Action, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectOn[action] = msg
}

// FailNext makes the next call of action fail with err.
func (f *Fake) FailNext(action Action, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[action] = err
}

// SetValidation sets the validation status of one identifier.
func (f *Fake) SetValidation(apiID, identifier, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[apiID]
	if !ok {
		return
	}
	for i := range o.validation {
		if o.validation[i].Identifier == identifier {
			o.validation[i].Status = status
		}
	}
}

// SetStatus overrides the apply status of an order.
func (f *Fake) SetStatus(apiID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[apiID]; ok {
		o.status = status
	}
}

// Call implements Vendor.
func (f *Fake) Call(_ context.Context, action Action, req Request) (*Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[action]++
	if err, ok := f.failOn[action]; ok {
		delete(f.failOn, action)
		return nil, err
	}
	if msg, ok := f.rejectOn[action]; ok {
		delete(f.rejectOn, action)
		return Rejected(msg), nil
	}

	if action == ActionSubmit {
		return f.submit(req)
	}

	o, ok := f.orders[req.VendorID]
	if !ok {
		return Rejected("order not found", req.VendorID), nil
	}

	switch action {
	case ActionGet:
	case ActionRevalidate:
		if f.AutoApprove {
			for i := range o.validation {
				o.validation[i].Status = ValidationValid
			}
		}
	case ActionUpdateDCV:
		o.method = req.DCVMethod
		o.validation = fakeValidation(o.identifiers, o.method)
	case ActionFinalize:
		if !o.allValid() {
			return Rejected("validation incomplete"), nil
		}
		o.csr = slices.Clone(req.CSR)
		pemCert, err := f.issue(o)
		if err != nil {
			return nil, err
		}
		o.cert = pemCert
		o.status = ApplyIssued
	case ActionCancel:
		o.status = ApplyCancelled
	case ActionRevoke:
		if o.status != ApplyIssued {
			return Rejected("certificate not issued"), nil
		}
		o.status = ApplyRevoked
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAction, action)
	}

	return Accepted(f.data(req.VendorID, o)), nil
}

func (f *Fake) submit(req Request) (*Envelope, error) {
	if len(req.Identifiers) == 0 {
		return Rejected("no identifiers"), nil
	}
	method := req.DCVMethod
	if method == "" {
		method = MethodDNSTXT
	}

	f.seq++
	apiID := fmt.Sprintf("%s-%d", f.name, f.seq)
	o := &fakeOrder{
		status:      ApplyProcessing,
		method:      method,
		identifiers: slices.Clone(req.Identifiers),
		validation:  fakeValidation(req.Identifiers, method),
	}
	f.orders[apiID] = o
	return Accepted(f.data(apiID, o)), nil
}

func (f *Fake) data(apiID string, o *fakeOrder) Data {
	d := Data{
		APIID:           apiID,
		CertApplyStatus: o.status,
		DCV:             &DCV{Method: o.method},
		Validation:      slices.Clone(o.validation),
		Cert:            o.cert,
	}
	if o.cert != "" {
		d.Intermediate = f.rootPEM
	}
	return d
}

func (o *fakeOrder) allValid() bool {
	for _, v := range o.validation {
		if v.Status != ValidationValid {
			return false
		}
	}
	return len(o.validation) > 0
}

func fakeValidation(identifiers []string, method string) []Validation {
	out := make([]Validation, 0, len(identifiers))
	for _, id := range identifiers {
		token := randomHex(16)
		v := Validation{Identifier: id, Method: method, Value: token, Status: ValidationPending}
		switch method {
		case MethodHTTPFile:
			v.Name = "/.well-known/pki-validation/" + randomHex(8) + ".txt"
		default:
			v.Name = "_acme-challenge." + id
		}
		out = append(out, v)
	}
	return out
}

func (f *Fake) issue(o *fakeOrder) (string, error) {
	f.rootOnce.Do(f.initRoot)
	if f.rootErr != nil {
		return "", f.rootErr
	}

	csr, err := x509.ParseCertificateRequest(o.csr)
	if err != nil {
		return "", fmt.Errorf("parse csr: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 96))
	if err != nil {
		return "", err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: o.identifiers[0]},
		DNSNames:     slices.Clone(o.identifiers),
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(90 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, f.root, csr.PublicKey, f.rootKey)
	if err != nil {
		return "", fmt.Errorf("sign certificate: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})), nil
}

func (f *Fake) initRoot() {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		f.rootErr = err
		return
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: f.name + " fake root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		f.rootErr = err
		return
	}
	root, err := x509.ParseCertificate(der)
	if err != nil {
		f.rootErr = err
		return
	}
	f.rootKey = key
	f.root = root
	f.rootPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(errors.Join(errors.New("fake ca: read random"), err))
	}
	return hex.EncodeToString(b)
}
