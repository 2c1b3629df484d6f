package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peerbridge/peerbridge/internal/chat"
	"github.com/peerbridge/peerbridge/internal/config"
	"github.com/peerbridge/peerbridge/internal/database"
	"github.com/peerbridge/peerbridge/internal/handlers"
	"github.com/peerbridge/peerbridge/internal/ledger"
	"github.com/peerbridge/peerbridge/internal/providers"
	"github.com/peerbridge/peerbridge/internal/push"
	"github.com/peerbridge/peerbridge/internal/rooms"
	"github.com/peerbridge/peerbridge/internal/signaling"
	"github.com/peerbridge/peerbridge/internal/turn"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/acme/autocert"
)

const AppVersion = "1.0.0"

func main() {
	// Optional .env for local development; real deployments use the
	// environment directly.
	_ = godotenv.Load()

	httpOnly := flag.Bool("http-only", false, "Serve plain HTTP behind an external proxy (no TLS)")
	selfSigned := flag.Bool("self-signed", false, "Serve HTTPS with a generated self-signed certificate")
	noTURN := flag.Bool("no-turn", false, "Do not start the embedded TURN relay")
	flag.Parse()

	cfg := config.Load(*httpOnly)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("peerbridge coordinator starting", "version", AppVersion)

	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DatabasePath, "error", err)
		return
	}

	var turnServer *turn.Server
	if cfg.TURNEnabled && !*noTURN {
		turnServer, err = turn.Start(cfg.TURNPort, cfg.TURNRealm, logger)
		if err != nil {
			logger.Error("failed to start TURN relay", "error", err)
			return
		}
		defer turnServer.Close()
		logger.Info("TURN relay started", "port", cfg.TURNPort, "realm", cfg.TURNRealm)
	}

	roomStore := rooms.NewStore(cfg.RoomTTL, cfg.RoomSweepInterval, cfg.PublicURL)
	exchange := signaling.NewExchange()
	chatRelay := chat.NewRelay(db)
	usageLedger := ledger.New(db)
	directory := providers.NewDirectory(db)
	notifier := push.NewNotifier(db, push.VAPIDKeys{
		PublicKey:  cfg.VAPIDKeys.PublicKey,
		PrivateKey: cfg.VAPIDKeys.PrivateKey,
		Subject:    cfg.VAPIDKeys.Subject,
	}, logger)

	h := handlers.New(cfg, roomStore, exchange, chatRelay, usageLedger, directory, notifier, turnServer, logger)

	router := setupRouter(h, cfg, logger)
	startServer(router, cfg, *selfSigned, logger)
}

func setupRouter(h *handlers.Handlers, cfg *config.Config, logger *slog.Logger) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(slogGinLogger(logger), gin.Recovery())

	// CORS for browser clients.
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": AppVersion})
	})

	api := router.Group("/api")

	// The VAPID public key is not a secret; clients fetch it before login.
	api.GET("/push/vapid-key", h.GetVAPIDPublicKey)

	authed := api.Group("", handlers.AuthMiddleware(cfg.JWTSecret))
	{
		authed.POST("/rooms", h.CreateRoom)
		authed.GET("/rooms", h.ListRooms)
		authed.GET("/rooms/:room_id", h.GetRoom)
		authed.GET("/room-codes/:code", h.GetRoomByCode)
		authed.POST("/rooms/:room_id/join", h.JoinRoom)
		authed.DELETE("/rooms/:room_id", h.EndRoom)

		authed.POST("/rooms/:room_id/offer", h.SubmitOffer)
		authed.GET("/rooms/:room_id/offer", h.GetOffer)
		authed.POST("/rooms/:room_id/answer", h.SubmitAnswer)
		authed.GET("/rooms/:room_id/answer", h.GetAnswer)
		authed.POST("/rooms/:room_id/candidates", h.SubmitCandidate)
		authed.GET("/rooms/:room_id/candidates", h.GetCandidates)
		authed.GET("/rooms/:room_id/state", h.GetSignalingState)

		authed.POST("/rooms/:room_id/messages", h.SendMessage)
		authed.GET("/rooms/:room_id/messages", h.GetMessages)

		authed.POST("/usage", h.LogUsage)
		authed.GET("/usage", h.GetAllUsage)
		authed.GET("/usage/:session_id", h.GetUsage)
		authed.POST("/billing", h.RecordBilling)
		authed.GET("/billing", h.GetBillingRecords)

		authed.POST("/providers", h.RegisterProvider)
		authed.GET("/providers", h.ListProviders)
		authed.GET("/providers/:provider_id", h.GetProvider)

		authed.GET("/turn-config", h.GetTURNConfig)

		authed.POST("/push/subscribe", h.SubscribePush)
		authed.POST("/push/unsubscribe", h.UnsubscribePush)

		authed.GET("/ws", h.HandleWebSocket)
	}

	return router
}

func startServer(router *gin.Engine, cfg *config.Config, selfSigned bool, logger *slog.Logger) {
	if cfg.HTTPOnly {
		startHTTP(router, cfg, logger)
		return
	}

	if selfSigned {
		startSelfSignedHTTPS(router, cfg, logger)
		return
	}

	// Default mode: HTTPS with Let's Encrypt.
	certsDir := getCertsDirectory()
	if err := os.MkdirAll(certsDir, 0700); err != nil {
		logger.Error("failed to create certs directory", "error", err)
		return
	}

	normalizedDomain := normalizeDomain(cfg.Domain)
	logger.Info("configured domain", "domain", cfg.Domain, "normalized", normalizedDomain)

	m := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		HostPolicy: func(ctx context.Context, host string) error {
			// Reject quietly; bots probe with arbitrary SNI names.
			if normalizeDomain(host) != normalizedDomain {
				return fmt.Errorf("host %q not configured (expected %q)", host, normalizedDomain)
			}
			return nil
		},
		Cache: autocert.DirCache(certsDir),
	}

	// Port 80 answers ACME challenges and redirects everything else.
	httpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/.well-known/acme-challenge/") {
			m.HTTPHandler(nil).ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
	})

	errorLog := log.New(newTLSErrorWriter(logger), "", 0)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      httpHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     errorLog,
	}

	httpsServer := &http.Server{
		Addr:         ":" + cfg.HTTPSPort,
		Handler:      router,
		TLSConfig:    m.TLSConfig(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     errorLog,
	}

	go func() {
		logger.Info("HTTP server starting (ACME challenges and redirects)", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start HTTP server", "error", err)
			os.Exit(1)
		}
	}()

	go certRenewalLoop(m, normalizedDomain, logger)

	logger.Info("HTTPS server starting", "port", cfg.HTTPSPort, "domain", normalizedDomain, "certs_dir", certsDir)
	if normalizedDomain == "localhost" || normalizedDomain == "127.0.0.1" {
		logger.Warn("Let's Encrypt does not issue for localhost; use --self-signed for local development")
	}

	if err := httpsServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to start HTTPS server", "error", err)
	}
}

func startHTTP(router *gin.Engine, cfg *config.Config, logger *slog.Logger) {
	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("HTTP server starting", "port", cfg.HTTPPort, "public_url", cfg.PublicURL)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to start HTTP server", "error", err)
	}
}

func startSelfSignedHTTPS(router *gin.Engine, cfg *config.Config, logger *slog.Logger) {
	logger.Info("generating self-signed certificate")

	hosts := []string{"localhost"}
	if cfg.Domain != "" {
		hosts = []string{cfg.Domain}
	}
	certPEM, keyPEM, err := generateSelfSignedCert(hosts)
	if err != nil {
		logger.Error("failed to generate self-signed certificate", "error", err)
		return
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		logger.Error("failed to load self-signed certificate", "error", err)
		return
	}

	httpsServer := &http.Server{
		Addr:    ":" + cfg.HTTPSPort,
		Handler: router,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		redirect := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := r.Host
			if idx := strings.Index(host, ":"); idx != -1 {
				host = host[:idx]
			}
			target := "https://" + host + ":" + cfg.HTTPSPort + r.URL.Path
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}
			http.Redirect(w, r, target, http.StatusMovedPermanently)
		})
		srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: redirect}
		logger.Info("HTTP redirect server starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP redirect server error", "error", err)
		}
	}()

	logger.Info("HTTPS server starting with self-signed certificate", "port", cfg.HTTPSPort)
	if err := httpsServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to start HTTPS server", "error", err)
	}
}

// certRenewalLoop re-checks the cached certificate monthly and touches the
// autocert manager when expiry is close, so renewal does not wait for the
// next inbound handshake.
func certRenewalLoop(m *autocert.Manager, domain string, logger *slog.Logger) {
	// Give the initial issuance a head start.
	time.Sleep(30 * time.Second)

	ticker := time.NewTicker(30 * 24 * time.Hour)
	defer ticker.Stop()

	checkAndRenewCertificate(m, domain, logger)
	for range ticker.C {
		checkAndRenewCertificate(m, domain, logger)
	}
}

func checkAndRenewCertificate(m *autocert.Manager, domain string, logger *slog.Logger) {
	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: domain})
	if err != nil {
		logger.Warn("certificate not available yet", "domain", domain, "error", err)
		return
	}
	if cert == nil || len(cert.Certificate) == 0 {
		logger.Warn("no certificate in cache", "domain", domain)
		return
	}

	x509Cert := cert.Leaf
	if x509Cert == nil {
		x509Cert, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			logger.Warn("failed to parse cached certificate", "domain", domain, "error", err)
			return
		}
	}

	daysUntilExpiry := int(time.Until(x509Cert.NotAfter).Hours() / 24)
	logger.Info("certificate status", "domain", domain, "days_until_expiry", daysUntilExpiry)

	if daysUntilExpiry < 30 {
		// GetCertificate triggers renewal inside autocert.
		if _, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: domain}); err != nil {
			logger.Error("certificate renewal failed", "domain", domain, "error", err)
		}
	}
}

func getCertsDirectory() string {
	execPath, err := os.Executable()
	if err != nil {
		return "certs"
	}
	return filepath.Join(filepath.Dir(execPath), "certs")
}

// normalizeDomain lowercases, trims, and strips a www. prefix for host
// comparison.
func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimPrefix(domain, "www.")
}

func generateSelfSignedCert(hosts []string) (certPEM, keyPEM []byte, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := time.Now()
	notAfter := notBefore.Add(365 * 24 * time.Hour)

	dnsNames := make([]string, 0, len(hosts))
	ipAddrs := make([]net.IP, 0, len(hosts))
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if idx := strings.Index(h, ":"); idx != -1 {
			h = h[:idx]
		}
		if ip := net.ParseIP(h); ip != nil {
			ipAddrs = append(ipAddrs, ip)
			continue
		}
		dnsNames = append(dnsNames, h)
	}
	if len(dnsNames) == 0 && len(ipAddrs) == 0 {
		dnsNames = []string{"localhost"}
	}

	commonName := "localhost"
	if len(dnsNames) > 0 {
		commonName = dnsNames[0]
	} else if len(ipAddrs) > 0 {
		commonName = ipAddrs[0].String()
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"PeerBridge Development"},
			CommonName:   commonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ipAddrs,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	certBuffer := new(bytes.Buffer)
	if err := pem.Encode(certBuffer, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return nil, nil, fmt.Errorf("failed to encode certificate: %w", err)
	}

	privBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	keyBuffer := new(bytes.Buffer)
	if err := pem.Encode(keyBuffer, &pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes}); err != nil {
		return nil, nil, fmt.Errorf("failed to encode private key: %w", err)
	}

	return certBuffer.Bytes(), keyBuffer.Bytes(), nil
}
