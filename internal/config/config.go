package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Sessionization
	SessionGap    time.Duration
	ActiveSeconds int64
	MaxWorkers    int

	// SFTP drop server for provider dumps
	SFTPHost                  string
	SFTPPort                  int
	SFTPUser                  string
	SFTPPass                  string
	SFTPRemoteDir             string
	SFTPKnownHosts            string
	SFTPInsecureIgnoreHostKey bool
}

func Load() Config {
	// A missing .env is fine; env vars may come from the environment.
	_ = godotenv.Load()

	return Config{
		SessionGap:    time.Duration(getenvInt("SESSION_GAP_MINUTES", 45)) * time.Minute,
		ActiveSeconds: int64(getenvInt("ACTIVE_SECONDS", 600)),
		MaxWorkers:    getenvInt("MAX_WORKERS", 4),

		SFTPHost:                  os.Getenv("SFTP_HOST"),
		SFTPPort:                  getenvInt("SFTP_PORT", 22),
		SFTPUser:                  os.Getenv("SFTP_USER"),
		SFTPPass:                  os.Getenv("SFTP_PASS"),
		SFTPRemoteDir:             getenv("SFTP_REMOTE_DIR", "/"),
		SFTPKnownHosts:            os.Getenv("SFTP_KNOWN_HOSTS"),
		SFTPInsecureIgnoreHostKey: getenvBool("SFTP_INSECURE_IGNORE_HOST_KEY", false),
	}
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
