// Package turn runs an embedded TURN relay for single-host deployments.
// Production deployments point clients at directory-listed relays instead;
// the server here is optional convenience infrastructure and the metering
// core never depends on it.
package turn

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pion/turn/v3"
)

type Server struct {
	server   *turn.Server
	username string
	password string
	logger   *slog.Logger
}

type Credentials struct {
	Username string
	Password string
}

// Start brings up a UDP TURN listener on the given port. Credentials are
// loaded from the keys directory or generated on first run.
func Start(port int, realm string, logger *slog.Logger) (*Server, error) {
	udpListener, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("create UDP listener: %w", err)
	}

	creds := loadOrGenerateCredentials(logger)

	relayIP := publicIP(logger)
	if relayIP == nil {
		relayIP = localIP(logger)
	}
	logger.Info("TURN relay address selected", "ip", relayIP.String())

	s, err := turn.NewServer(turn.ServerConfig{
		Realm:       realm,
		AuthHandler: staticAuthHandler(creds.Username, creds.Password),
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: udpListener,
				RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
					RelayAddress: relayIP,
					Address:      "0.0.0.0",
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create TURN server: %w", err)
	}

	logger.Info("TURN server listening", "port", port, "realm", realm)

	return &Server{
		server:   s,
		username: creds.Username,
		password: creds.Password,
		logger:   logger,
	}, nil
}

func (s *Server) GetCredentials() Credentials {
	return Credentials{Username: s.username, Password: s.password}
}

func (s *Server) Close() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func staticAuthHandler(expectedUsername, expectedPassword string) turn.AuthHandler {
	return func(username string, realm string, srcAddr net.Addr) ([]byte, bool) {
		if username == expectedUsername {
			return turn.GenerateAuthKey(username, realm, expectedPassword), true
		}
		return nil, false
	}
}

func loadOrGenerateCredentials(logger *slog.Logger) Credentials {
	keysDir := keysDirectory()
	usernameFile := filepath.Join(keysDir, "turn-username.key")
	passwordFile := filepath.Join(keysDir, "turn-password.key")

	if usernameData, err := os.ReadFile(usernameFile); err == nil {
		if passwordData, err := os.ReadFile(passwordFile); err == nil {
			return Credentials{
				Username: strings.TrimSpace(string(usernameData)),
				Password: strings.TrimSpace(string(passwordData)),
			}
		}
	}

	creds := Credentials{
		Username: "peerbridge",
		Password: generatePassword(),
	}

	if err := os.MkdirAll(keysDir, 0700); err == nil {
		os.WriteFile(usernameFile, []byte(creds.Username), 0600)
		os.WriteFile(passwordFile, []byte(creds.Password), 0600)
		logger.Info("TURN credentials saved", "dir", keysDir)
	}

	return creds
}

func keysDirectory() string {
	execPath, err := os.Executable()
	if err != nil {
		return "keys"
	}
	return filepath.Join(filepath.Dir(execPath), "keys")
}

func generatePassword() string {
	b := make([]byte, 16)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}

// publicIP asks ipify for the address clients will reach the relay on.
func publicIP(logger *slog.Logger) net.IP {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get("https://api.ipify.org")
	if err != nil {
		logger.Warn("public IP lookup failed", "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("public IP lookup returned non-200", "status", resp.StatusCode)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Warn("public IP response read failed", "error", err)
		return nil
	}

	ip := net.ParseIP(strings.TrimSpace(string(body)))
	if ip == nil {
		logger.Warn("public IP lookup returned garbage", "body", strings.TrimSpace(string(body)))
		return nil
	}
	return ip
}

// localIP falls back to the interface address used for outbound traffic.
func localIP(logger *slog.Logger) net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		logger.Warn("local IP detection failed", "error", err)
		return net.ParseIP("127.0.0.1")
	}
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).IP
}
