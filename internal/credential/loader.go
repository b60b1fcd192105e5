package credential

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// hashKey returns a stable, non-reversible fingerprint for audit logging.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// LoadFromFiles reads the `<provider>_free` and `<provider>_paid` tier
// files under dir, shuffles each tier independently (strict file order
// would create key-local hot spots per spec §4.1), and seeds the pool.
// Missing tier files are treated as empty, not an error — a provider may
// only have one tier configured.
func (p *Pool) LoadFromFiles(dir, provider string) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for _, tier := range []Tier{TierFree, TierPaid} {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.env", provider, tier))
		keys, err := readKeyFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("credential: load %s: %w", path, err)
		}
		rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
		p.Seed(keys, tier)
	}

	p.logger.Info("credential pool loaded",
		zap.String("provider", provider), zap.Int("total_keys", p.TotalKeys()))
	return nil
}

// readKeyFile parses a plain UTF-8 file, one key per line, `#` comments
// and blank lines permitted.
func readKeyFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var keys []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	return keys, scanner.Err()
}
