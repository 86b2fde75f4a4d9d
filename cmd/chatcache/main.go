// chatcache is a developer tool that opens a chat cache database and dumps
// its contents: identity vars, the scsn marker, the contact list and the chat
// rooms. It never writes; the cache is closed with the open transaction
// rolled back.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/aperturetechnology/MEGAchat/internal/cache"
	"github.com/aperturetechnology/MEGAchat/internal/store/chats"
	"github.com/aperturetechnology/MEGAchat/internal/store/contacts"
	"github.com/aperturetechnology/MEGAchat/internal/store/vars"
	"github.com/aperturetechnology/MEGAchat/logging"
)

// nopBackend satisfies the migrator's backend dependency; an inspector has no
// remote cache to invalidate.
type nopBackend struct{}

func (nopBackend) InvalidateCache(context.Context) error { return nil }

func main() {
	cfg := loadConfig()

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := logging.NewSlogLogger(slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(context.Background(), cfg, logger); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(ctx context.Context, cfg *Config, logger logging.Logger) error {
	path, err := cache.PathForSession(cfg.AppDir, cfg.SessionID)
	if err != nil {
		return err
	}

	db, err := cache.Open(ctx, path, nopBackend{}, logger)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer db.Close()

	varsRepo := vars.NewRepo(db)
	for _, name := range []string{vars.KeySchemaVersion, vars.KeyMyHandle, vars.KeyMyEmail, vars.KeyScsn} {
		value, err := varsRepo.Get(ctx, name)
		if err != nil {
			value = "(not set)"
		}
		fmt.Printf("%-16s %s\n", name, value)
	}

	contactRows, err := contacts.NewRepo(db).GetAll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\ncontacts (%d):\n", len(contactRows))
	for _, c := range contactRows {
		fmt.Printf("  %-20d %-30s visibility=%d since=%d\n", c.UserID, c.Email, c.Visibility, c.Since)
	}

	chatRepo := chats.NewRepo(db)
	chatRows, err := chatRepo.GetAll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\nchats (%d):\n", len(chatRows))
	for _, c := range chatRows {
		kind := fmt.Sprintf("1:1 peer=%d", c.Peer)
		if c.IsGroup() {
			peers, err := chatRepo.GetPeersOf(ctx, c.ChatID)
			if err != nil {
				return err
			}
			kind = fmt.Sprintf("group members=%d mode=%d", len(peers), c.Mode)
		}
		fmt.Printf("  %-20d shard=%d own_priv=%d archived=%v %s title=%s\n",
			c.ChatID, c.Shard, c.OwnPriv, c.Archived, kind, titleString(c.Title))
	}
	return nil
}

// titleString renders the stored title blob: a state byte followed by either
// the plaintext title or the encrypted payload.
func titleString(blob []byte) string {
	if len(blob) == 0 {
		return "(none)"
	}
	switch blob[0] {
	case 0:
		return fmt.Sprintf("%q", blob[1:])
	case 1:
		return "(encrypted)"
	case 2:
		return "(undecryptable)"
	default:
		return "(unknown format)"
	}
}
