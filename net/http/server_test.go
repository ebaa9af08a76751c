package http

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	mrand "math/rand"
	lib "net/http"
	"net/http/httputil"
	"os"
	"strings"
	"testing"
	"time"

	tdd "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xlog "go.bryk.io/queue/log"
	mwCors "go.bryk.io/queue/net/middleware/cors"
	mwGzip "go.bryk.io/queue/net/middleware/gzip"
	mwHeaders "go.bryk.io/queue/net/middleware/headers"
	mwLogging "go.bryk.io/queue/net/middleware/logging"
	mwRecover "go.bryk.io/queue/net/middleware/recovery"
)

// generateSelfSignedCert mints an ephemeral self-signed certificate/key
// pair, PEM-encoded, for exercising the HTTPS server path without
// relying on fixture files on disk.
func generateSelfSignedCert(t *testing.T) (cert, key []byte) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &priv.PublicKey, priv)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)

	cert = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	key = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return cert, key
}

var mux *lib.ServeMux

// sample client interceptor to add a custom header and dump the
// HTTP request.
func sampleClientInterceptor(req *lib.Request) {
	req.Header.Set("x-custom-header", "test-client")
	dump, _ := httputil.DumpRequest(req, false)
	fmt.Printf("client interceptor:\n%s\n", dump)
}

func TestNewServer(t *testing.T) {
	// Skip when running on CI.
	// tests keep failing randomly on CI.
	if os.Getenv("CI") != "" || os.Getenv("CI_WORKSPACE") != "" {
		t.Skip("CI environment")
		return
	}

	assert := tdd.New(t)

	// handler
	router := lib.NewServeMux()
	router.HandleFunc("/ping", func(res lib.ResponseWriter, _ *lib.Request) {
		_, _ = res.Write([]byte("pong"))
	})
	router.HandleFunc("/panic", func(res lib.ResponseWriter, _ *lib.Request) {
		panic("cool services never panic!!!")
	})

	// random port
	port, endpoint := getRandomPort()

	// server options
	opts := []Option{
		WithPort(port),
		WithIdleTimeout(10 * time.Second),
		WithHandler(router),
		WithMiddleware(
			mwRecover.Handler(),
			mwCors.Handler(mwCors.Options{AllowCredentials: true}),
			mwGzip.Handler(9),
			mwLogging.Handler(xlog.WithCharm(xlog.CharmOptions{ReportCaller: true}), nil),
			mwHeaders.Handler(map[string]string{
				"x-bar": "bar",
				"x-foo": "foo",
			}),
		),
	}

	// HTTP client (instrumented)
	rt := &lib.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, // to enable TLS with self-signed certificates
		},
	}
	cl, err := NewClient(WithRoundTripper(rt), WithInterceptors(sampleClientInterceptor))
	assert.Nil(err)

	t.Run("HTTP", func(t *testing.T) {
		// Server instance
		srv, err := NewServer(opts...)
		assert.Nil(err, "new server")

		// Start server
		go func() {
			_ = srv.Start()
		}()

		t.Run("Ping", func(t *testing.T) {
			res, err := cl.Get(endpoint + "/ping")
			assert.Nil(err, "ping")
			assert.Equal(lib.StatusOK, res.StatusCode, "wrong status")
			dump, _ := httputil.DumpResponse(res, true)
			t.Logf("%s", dump)
			_ = res.Body.Close()
		})

		t.Run("Panic", func(t *testing.T) {
			res, err := cl.Get(endpoint + "/panic")
			assert.Nil(err, "panic")
			assert.Equal(lib.StatusInternalServerError, res.StatusCode, "wrong status")

			data, err := io.ReadAll(res.Body)
			assert.Nil(err, "panic response")
			assert.Equal(string(data), "cool services never panic!!!")
			dump, _ := httputil.DumpResponse(res, true)
			t.Logf("%s", dump)
			_ = res.Body.Close()
		})

		// Stop server
		assert.Nil(srv.Stop(true), "server stop")
	})

	t.Run("HTTPS", func(t *testing.T) {
		// Self-signed cert/key generated on the fly, no fixture files required.
		cert, key := generateSelfSignedCert(t)
		opts = append(opts, WithTLS(TLS{
			IncludeSystemCAs: true,
			Cert:             cert,
			PrivateKey:       key,
			MinVersion:       tls.VersionTLS13, // enforce TLS 1.3
		}))

		// Server instance
		srv, err := NewServer(opts...)
		assert.Nil(err, "new server")

		// Start server
		go func() {
			_ = srv.Start()
		}()

		endpoint = strings.ReplaceAll(endpoint, "http", "https")

		t.Run("Ping", func(t *testing.T) {
			res, err := cl.Get(endpoint + "/ping")
			assert.Nil(err, "ping")
			assert.Equal(lib.StatusOK, res.StatusCode, "wrong status")
			_ = res.Body.Close()
		})

		t.Run("Panic", func(t *testing.T) {
			res, err := cl.Get(endpoint + "/panic")
			assert.Nil(err, "panic")
			assert.Equal(lib.StatusInternalServerError, res.StatusCode, "wrong status")

			data, err := io.ReadAll(res.Body)
			assert.Nil(err, "panic response")
			assert.Equal(string(data), "cool services never panic!!!")
			_ = res.Body.Close()
		})

		// Stop server
		assert.Nil(srv.Stop(true), "server stop")
	})
}

func ExampleNewServer() {
	// Server options
	options := []Option{
		WithHandler(mux),
		WithPort(8080),
		WithIdleTimeout(5 * time.Second),
		WithMiddleware(
			mwRecover.Handler(),
			mwGzip.Handler(9),
		),
	}

	// Create and start the server in the background
	server, _ := NewServer(options...)
	go func() {
		_ = server.Start()
	}()

	// When no longer required, gracefully stop the server
	_ = server.Stop(true)
}

func getRandomPort() (int, string) {
	var port = 8080
	port += mrand.Intn(122)
	return port, fmt.Sprintf("http://localhost:%d", port)
}
