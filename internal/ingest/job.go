// Package ingest holds what the broker adapters share: the JSON job
// envelope, TLS settings and retry classification.
package ingest

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"x12ack/internal/domain"
)

var ErrMalformedJob = errors.New("malformed comparison job")

// JobPayload is the JSON body of a comparison job on a broker.
type JobPayload struct {
	CorrelationID string `json:"correlation_id"`
	ProdName      string `json:"prod_name"`
	TestName      string `json:"test_name"`
	ProdDocument  string `json:"prod_document"`
	TestDocument  string `json:"test_document"`
}

// ParseJob decodes a job body. fallbackCorrelation is used when the body
// carries no correlation_id (a record key or message id). Blank or missing
// documents are not malformed; they are acknowledged as REJECTED.
func ParseJob(body []byte, fallbackCorrelation string) (domain.ComparisonJob, error) {
	var in JobPayload
	if err := json.Unmarshal(body, &in); err != nil {
		return domain.ComparisonJob{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	correlationID := strings.TrimSpace(in.CorrelationID)
	if correlationID == "" {
		correlationID = fallbackCorrelation
	}
	return domain.ComparisonJob{
		CorrelationID: correlationID,
		ProdName:      in.ProdName,
		TestName:      in.TestName,
		ProdDocument:  in.ProdDocument,
		TestDocument:  in.TestDocument,
		ReceivedAtUTC: time.Now().UTC(),
	}, nil
}

// EncodeOutcome is the reply body published for a processed job.
func EncodeOutcome(out domain.Outcome) ([]byte, error) {
	return json.Marshal(out)
}

type TLSConfig struct {
	Enabled            bool
	InsecureSkipVerify bool
	ServerName         string
	CAFile             string
	CertFile           string
	KeyFile            string
}

// Build returns nil when TLS is disabled.
func (c TLSConfig) Build() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.InsecureSkipVerify, ServerName: c.ServerName}
	if c.CAFile != "" {
		pemBytes, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca_file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("parse ca_file %s", c.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	if c.CertFile != "" || c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

type retryable interface{ Temporary() bool }

// IsRetryable reports whether err, or an error it wraps, is temporary.
func IsRetryable(err error) bool {
	var te retryable
	if errors.As(err, &te) {
		return te.Temporary()
	}
	return false
}
