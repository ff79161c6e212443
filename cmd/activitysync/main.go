package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"activity-sync/internal/config"
	"activity-sync/internal/pipeline"
	"activity-sync/internal/providers"
	"activity-sync/internal/sftpclient"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	app := &cli.App{
		Name:  "activitysync",
		Usage: "import learning provider activity dumps into the local fact store",
		Commands: []*cli.Command{
			importCommand(cfg, logger),
			fetchCommand(cfg, logger),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("activitysync: %v", err)
	}
}

func importCommand(cfg config.Config, logger *slog.Logger) *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "resources-path", Value: ".", Usage: "directory holding the local store and output files"},
		&cli.StringFlag{Name: "billing", Required: true, Usage: "billing info dump (csv)"},
		&cli.StringFlag{Name: "student-grades", Required: true, Usage: "student grades dump (csv)"},
		&cli.StringFlag{Name: "external-system", Required: true, Usage: "external system reference (csv)"},
		&cli.StringFlag{Name: "course-types", Required: true, Usage: "course type reference (csv)"},
		&cli.StringFlag{Name: "profile-educational-institution", Required: true, Usage: "profile to institution roster (csv)"},
		&cli.StringFlag{Name: "educational-institution", Required: true, Usage: "institution roster (csv)"},
		&cli.StringFlag{Name: "freeze-date", Usage: "exclude facts on or after this date (YYYY-MM-DD)"},
		&cli.BoolFlag{Name: "minute-activity", Value: true, Usage: "count a day active only above the dwell time threshold"},
	}
	for _, adapter := range providers.All() {
		name := adapter.Name()
		flags = append(flags,
			&cli.StringFlag{Name: "course-structure-" + name, Usage: "content tree dump for " + name + " (csv)"},
			&cli.StringFlag{Name: "course-statistics-" + name, Usage: "activity dump directory for " + name},
		)
	}

	return &cli.Command{
		Name:  "import",
		Usage: "run the full import against local dump files",
		Flags: flags,
		Action: func(c *cli.Context) error {
			paths := pipeline.Paths{
				Resources:              c.String("resources-path"),
				Billing:                c.String("billing"),
				StudentGrades:          c.String("student-grades"),
				ExternalSystem:         c.String("external-system"),
				CourseTypes:            c.String("course-types"),
				ProfileInstitution:     c.String("profile-educational-institution"),
				EducationalInstitution: c.String("educational-institution"),
				CourseStructure:        map[string]string{},
				CourseStatistics:       map[string]string{},
			}
			for _, adapter := range providers.All() {
				name := adapter.Name()
				if v := c.String("course-structure-" + name); v != "" {
					paths.CourseStructure[name] = v
				}
				if v := c.String("course-statistics-" + name); v != "" {
					paths.CourseStatistics[name] = v
				}
			}

			opts := pipeline.Options{
				SessionGap:     cfg.SessionGap,
				ActiveSeconds:  cfg.ActiveSeconds,
				MinuteActivity: c.Bool("minute-activity"),
				FreezeDate:     c.String("freeze-date"),
				MaxWorkers:     cfg.MaxWorkers,
			}

			m, err := pipeline.New(paths, opts, logger)
			if err != nil {
				return err
			}
			defer m.Close()
			return m.Run(c.Context)
		},
	}
}

func fetchCommand(cfg config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "mirror a provider drop directory from the SFTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "remote-dir", Usage: "remote directory (defaults to SFTP_REMOTE_DIR)"},
			&cli.StringFlag{Name: "local-dir", Required: true, Usage: "local destination directory"},
		},
		Action: func(c *cli.Context) error {
			sftpCfg := sftpclient.Config{
				Host:                  cfg.SFTPHost,
				Port:                  cfg.SFTPPort,
				User:                  cfg.SFTPUser,
				Pass:                  cfg.SFTPPass,
				RemoteDir:             cfg.SFTPRemoteDir,
				KnownHostsFile:        cfg.SFTPKnownHosts,
				InsecureIgnoreHostKey: cfg.SFTPInsecureIgnoreHostKey,
			}
			localDir := c.String("local-dir")
			n, err := sftpclient.FetchDir(c.Context, sftpCfg, c.String("remote-dir"), localDir)
			if err != nil {
				return err
			}
			logger.Info("fetch finished", "files", n, "dir", filepath.Clean(localDir))
			return nil
		},
	}
}
