package sftpclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type Config struct {
	Host      string
	Port      int
	User      string
	Pass      string
	RemoteDir string

	// KnownHostsFile is the host key database consulted unless
	// InsecureIgnoreHostKey is set. Empty means ~/.ssh/known_hosts.
	KnownHostsFile        string
	InsecureIgnoreHostKey bool
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := cfg.KnownHostsFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("sftp: resolve home for known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("sftp: load known_hosts %s: %w", path, err)
	}
	return cb, nil
}

// FetchDir mirrors a provider drop directory into localDir. Files whose
// size already matches the local copy are skipped, so re-running against an
// unchanged drop is cheap. Returns the number of files downloaded.
func FetchDir(ctx context.Context, cfg Config, remoteDir, localDir string) (int, error) {
	if cfg.Host == "" || cfg.User == "" || cfg.Pass == "" {
		return 0, fmt.Errorf("sftp: missing env SFTP_HOST / SFTP_USER / SFTP_PASS")
	}
	if cfg.Port <= 0 {
		cfg.Port = 22
	}
	if remoteDir == "" {
		remoteDir = cfg.RemoteDir
	}
	if remoteDir == "" {
		remoteDir = "/"
	}

	cb, err := hostKeyCallback(cfg)
	if err != nil {
		return 0, err
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Pass)},
		HostKeyCallback: cb,
		Timeout:         20 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	type dialRes struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan dialRes, 1)
	go func() {
		c, err := ssh.Dial("tcp", addr, sshCfg)
		ch <- dialRes{client: c, err: err}
	}()

	var sshClient *ssh.Client
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("sftp: dial canceled: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return 0, fmt.Errorf("sftp: dial error: %w", r.err)
		}
		sshClient = r.client
	}
	defer sshClient.Close()

	sftpCli, err := sftp.NewClient(sshClient)
	if err != nil {
		return 0, fmt.Errorf("sftp: new client: %w", err)
	}
	defer sftpCli.Close()

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return 0, fmt.Errorf("sftp: mkdir %s: %w", localDir, err)
	}

	entries, err := sftpCli.ReadDir(remoteDir)
	if err != nil {
		return 0, fmt.Errorf("sftp: read dir %s: %w", remoteDir, err)
	}

	fetched := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		select {
		case <-ctx.Done():
			return fetched, ctx.Err()
		default:
		}

		localPath := filepath.Join(localDir, entry.Name())
		if info, err := os.Stat(localPath); err == nil && info.Size() == entry.Size() {
			continue
		}

		if err := fetchFile(sftpCli, path.Join(remoteDir, entry.Name()), localPath); err != nil {
			return fetched, err
		}
		fetched++
	}
	return fetched, nil
}

func fetchFile(cli *sftp.Client, remotePath, localPath string) error {
	src, err := cli.Open(remotePath)
	if err != nil {
		return fmt.Errorf("sftp: open remote %s: %w", remotePath, err)
	}
	defer src.Close()

	// Download into a temp name so a broken transfer never shadows a
	// complete file.
	tmp := localPath + ".part"
	dst, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("sftp: create %s: %w", tmp, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return fmt.Errorf("sftp: download %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, localPath)
}
