// Package backup produces timestamped, checksummed snapshots of durable
// state and restores them after verification. The on-disk contract:
//
//	backups/<YYYYMMDD-HHMMSS>-users.json      users map
//	backups/<YYYYMMDD-HHMMSS>-players.json    all players combined
//	backups/<YYYYMMDD-HHMMSS>-manifest.json   v2.0: per-file sha256 + sizes
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/highwizardry/gameserver/logger"
	"github.com/highwizardry/gameserver/models"
	"github.com/highwizardry/gameserver/persistence"
)

// ManifestVersion identifies the manifest schema.
const ManifestVersion = "2.0"

// TimestampLayout produces the exact backup id format.
const TimestampLayout = "20060102-150405"

// timestampRe is the strict validation applied before any restore.
var timestampRe = regexp.MustCompile(`^[0-9]{8}-[0-9]{6}$`)

// FileEntry is one checksummed file in a manifest.
type FileEntry struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Manifest is the v2.0 backup descriptor.
type Manifest struct {
	Version   string               `json:"version"`
	Timestamp string               `json:"timestamp"`
	CreatedAt time.Time            `json:"createdAt"`
	Files     map[string]FileEntry `json:"files"`
}

// Service snapshots and restores through the storage adapter.
type Service struct {
	store     persistence.Store
	dir       string
	retention int
	now       func() time.Time
}

func NewService(store persistence.Store, dir string, retention int) *Service {
	return &Service{store: store, dir: dir, retention: retention, now: time.Now}
}

// SetClock overrides the time source for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Create writes one backup set and prunes old sets beyond the retention
// count. It returns the backup timestamp id.
func (s *Service) Create() (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	users, err := s.store.GetAllUsers()
	if err != nil {
		return "", fmt.Errorf("read users: %w", err)
	}
	players, err := s.store.GetAllPlayers()
	if err != nil {
		return "", fmt.Errorf("read players: %w", err)
	}

	usersByKey := make(map[string]*models.User, len(users))
	for _, u := range users {
		usersByKey[strings.ToLower(u.Username)] = u
	}
	playersByID := make(map[string]*models.Player, len(players))
	for _, p := range players {
		playersByID[p.ID] = p
	}

	ts := s.now().UTC().Format(TimestampLayout)
	manifest := Manifest{
		Version:   ManifestVersion,
		Timestamp: ts,
		CreatedAt: s.now().UTC(),
		Files:     map[string]FileEntry{},
	}

	write := func(suffix string, v interface{}) error {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		name := ts + suffix
		if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		manifest.Files[name] = FileEntry{
			SHA256: hex.EncodeToString(sum[:]),
			Size:   int64(len(data)),
		}
		return nil
	}

	if err := write("-users.json", usersByKey); err != nil {
		return "", fmt.Errorf("write users backup: %w", err)
	}
	if err := write("-players.json", playersByID); err != nil {
		return "", fmt.Errorf("write players backup: %w", err)
	}

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(s.dir, ts+"-manifest.json"), manifestData, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}

	s.prune()
	logger.Log.Infof("backup %s written (%d users, %d players)", ts, len(users), len(players))
	return ts, nil
}

// Verify recomputes every checksum in a backup set against the stored
// bytes.
func (s *Service) Verify(timestamp string) error {
	manifest, err := s.readManifest(timestamp)
	if err != nil {
		return err
	}

	for name, entry := range manifest.Files {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if int64(len(data)) != entry.Size {
			return fmt.Errorf("%s: size mismatch (have %d, manifest %d)", name, len(data), entry.Size)
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != entry.SHA256 {
			return fmt.Errorf("%s: checksum mismatch", name)
		}
	}
	return nil
}

// Restore verifies the set, then writes every user and player back through
// the storage adapter.
func (s *Service) Restore(timestamp string) error {
	if err := s.Verify(timestamp); err != nil {
		return err
	}

	usersData, err := os.ReadFile(filepath.Join(s.dir, timestamp+"-users.json"))
	if err != nil {
		return fmt.Errorf("read users backup: %w", err)
	}
	var users map[string]*models.User
	if err := json.Unmarshal(usersData, &users); err != nil {
		return fmt.Errorf("decode users backup: %w", err)
	}

	playersData, err := os.ReadFile(filepath.Join(s.dir, timestamp+"-players.json"))
	if err != nil {
		return fmt.Errorf("read players backup: %w", err)
	}
	var players map[string]*models.Player
	if err := json.Unmarshal(playersData, &players); err != nil {
		return fmt.Errorf("decode players backup: %w", err)
	}

	for _, u := range users {
		if err := s.store.CreateUser(u); err != nil {
			if err := s.store.UpdateUser(u); err != nil {
				return fmt.Errorf("restore user %s: %w", u.Username, err)
			}
		}
	}
	for _, p := range players {
		if err := s.store.UpdatePlayer(p); err != nil {
			return fmt.Errorf("restore player %s: %w", p.ID, err)
		}
	}

	logger.Log.Infof("restored backup %s (%d users, %d players)", timestamp, len(users), len(players))
	return nil
}

// List returns the available backup timestamps, newest last.
func (s *Service) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, "-manifest.json") {
			continue
		}
		ts := strings.TrimSuffix(name, "-manifest.json")
		if timestampRe.MatchString(ts) {
			out = append(out, ts)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Service) readManifest(timestamp string) (*Manifest, error) {
	if !timestampRe.MatchString(timestamp) {
		return nil, fmt.Errorf("invalid backup timestamp %q", timestamp)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, timestamp+"-manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %q", m.Version)
	}
	return &m, nil
}

// prune deletes the oldest backup sets beyond the retention count.
func (s *Service) prune() {
	if s.retention <= 0 {
		return
	}
	sets, err := s.List()
	if err != nil || len(sets) <= s.retention {
		return
	}
	for _, ts := range sets[:len(sets)-s.retention] {
		for _, suffix := range []string{"-users.json", "-players.json", "-manifest.json"} {
			if err := os.Remove(filepath.Join(s.dir, ts+suffix)); err != nil && !os.IsNotExist(err) {
				logger.Log.Warnf("prune backup %s%s: %v", ts, suffix, err)
			}
		}
	}
}
