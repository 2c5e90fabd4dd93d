package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/wolfeidau/seedkeeper/transmission"
)

// ActCmd applies a torrent action on the daemon.
type ActCmd struct {
	Action string   `arg:"" help:"start, stop, start-now, verify or reannounce."`
	Hashes []string `arg:"" optional:"" help:"Info hashes; all items when omitted."`
}

// Run implements the act command.
func (c *ActCmd) Run(g *Globals) error {
	action, err := transmission.ParseAction(c.Action)
	if err != nil {
		return err
	}

	logger, _, err := openLog(g, false)
	if err != nil {
		return err
	}

	ctx, stop := interrupted()
	defer stop()

	creds, err := loadCredentials(ctx, g, logger)
	if err != nil {
		return err
	}

	if err := newDaemon(g, creds, logger).Act(ctx, action, c.Hashes...); err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	logger.Info("action applied", "action", action, "items", len(c.Hashes))
	return nil
}

// FreeSpaceCmd reports free space on the daemon host.
type FreeSpaceCmd struct {
	Path string `arg:"" optional:"" help:"Directory to check; the daemon's download directory when omitted."`
}

// Run implements the free-space command.
func (c *FreeSpaceCmd) Run(g *Globals) error {
	logger, _, err := openLog(g, false)
	if err != nil {
		return err
	}

	ctx, stop := interrupted()
	defer stop()

	creds, err := loadCredentials(ctx, g, logger)
	if err != nil {
		return err
	}
	daemon := newDaemon(g, creds, logger)

	path := c.Path
	if path == "" {
		info, err := daemon.Session(ctx)
		if err != nil {
			return fmt.Errorf("reading session: %w", err)
		}
		path = info.DownloadDir
	}

	free, err := daemon.FreeSpace(ctx, path)
	if err != nil {
		return fmt.Errorf("reading free space: %w", err)
	}
	fmt.Printf("%s\t%s\n", path, humanize.IBytes(uint64(max(free, 0))))
	return nil
}
