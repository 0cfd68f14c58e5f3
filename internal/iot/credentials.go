// Package iot exchanges an IoT Core X.509 identity for temporary AWS
// credentials via the IoT credentials provider, and can optionally
// refresh them on a schedule ahead of their typical 1h STS expiry.
package iot

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/robfig/cron/v3"

	kvserrors "github.com/alxayo/kvs-producer/internal/errors"
	"github.com/alxayo/kvs-producer/internal/logger"
	"github.com/alxayo/kvs-producer/internal/sigv4"
)

// X509Identity is the mutual-TLS material presented to the credentials
// provider: a root CA to validate the server, and a client certificate
// (with its private key) identifying this thing.
type X509Identity struct {
	RootCA            []byte // PEM
	ClientCertificate []byte // PEM
	ClientPrivateKey  []byte // PEM
}

// Parameter configures one credential-exchange call.
type Parameter struct {
	CredentialHost string
	RoleAlias      string
	ThingName      string
	Identity       X509Identity
}

type credentialsResponse struct {
	Credentials struct {
		AccessKeyID     string `json:"accessKeyId"`
		SecretAccessKey string `json:"secretAccessKey"`
		SessionToken    string `json:"sessionToken"`
		Expiration      string `json:"expiration"`
	} `json:"credentials"`
}

// Exchanger holds a prebuilt mTLS client and, optionally, a running
// refresh schedule.
type Exchanger struct {
	param  Parameter
	client *http.Client
	cron   *cron.Cron
}

// NewExchanger builds the mTLS-configured HTTP client for param's
// identity. The client is reused across calls to ExchangeCredentials.
func NewExchanger(param Parameter) (*Exchanger, error) {
	cert, err := tls.X509KeyPair(param.Identity.ClientCertificate, param.Identity.ClientPrivateKey)
	if err != nil {
		return nil, kvserrors.NewArgumentError("iot.NewExchanger", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(param.Identity.RootCA) {
		return nil, kvserrors.NewArgumentError("iot.NewExchanger", errInvalidRootCA{})
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}
	return &Exchanger{
		param:  param,
		client: &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}, Timeout: 10 * time.Second},
	}, nil
}

// ExchangeCredentials fetches a fresh credential triple. The returned
// Token is opaque to the caller and forwarded verbatim as
// x-amz-security-token on subsequent PutMedia/control-plane calls.
func (e *Exchanger) ExchangeCredentials() (sigv4.Credentials, error) {
	url := "https://" + e.param.CredentialHost + "/role-aliases/" + e.param.RoleAlias + "/credentials"
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return sigv4.Credentials{}, kvserrors.NewArgumentError("iot.ExchangeCredentials", err)
	}
	req.Header.Set("x-amzn-iot-thingname", e.param.ThingName)

	resp, err := e.client.Do(req)
	if err != nil {
		return sigv4.Credentials{}, kvserrors.NewNetworkError("iot.ExchangeCredentials", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return sigv4.Credentials{}, kvserrors.NewNetworkError("iot.ExchangeCredentials", err)
	}
	if resp.StatusCode != http.StatusOK {
		return sigv4.Credentials{}, kvserrors.NewRestfulError("iot.ExchangeCredentials", resp.StatusCode, nil)
	}

	var parsed credentialsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return sigv4.Credentials{}, kvserrors.NewParseError("iot.ExchangeCredentials", err)
	}

	return sigv4.Credentials{
		AccessKeyID:     parsed.Credentials.AccessKeyID,
		SecretAccessKey: parsed.Credentials.SecretAccessKey,
		Token:           parsed.Credentials.SessionToken,
	}, nil
}

// StartAutoRefresh re-exchanges credentials on the given cron schedule
// (e.g. "@every 50m" ahead of a typical 1h STS expiry), invoking onUpdate
// with each freshly exchanged credential set. Call Stop to halt it.
func (e *Exchanger) StartAutoRefresh(schedule string, onUpdate func(sigv4.Credentials, error)) error {
	e.cron = cron.New()
	_, err := e.cron.AddFunc(schedule, func() {
		creds, err := e.ExchangeCredentials()
		if err != nil {
			logger.Error("iot credential refresh failed", "error", err)
		}
		onUpdate(creds, err)
	})
	if err != nil {
		return kvserrors.NewArgumentError("iot.StartAutoRefresh", err)
	}
	e.cron.Start()
	return nil
}

// Stop halts a running refresh schedule, if any.
func (e *Exchanger) Stop() {
	if e.cron != nil {
		e.cron.Stop()
	}
}

type errInvalidRootCA struct{}

func (errInvalidRootCA) Error() string { return "iot: root CA PEM is empty or malformed" }
