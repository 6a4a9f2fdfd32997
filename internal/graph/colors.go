package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Palette holds the color keys handed out to refs and lanes. Renderers map the
// keys to concrete colors.
var Palette = []string{"blue", "green", "purple", "orange", "cyan", "yellow", "red"}

// RefColors assigns each ref name a palette key the first time it is seen and
// keeps it for the lifetime of the cache, so a branch keeps its color across
// refreshes. The host owns the cache and passes it to every Engine it builds.
type RefColors struct {
	mu     sync.Mutex
	byName map[string]string
	next   int
}

func NewRefColors() *RefColors {
	return &RefColors{byName: map[string]string{}}
}

// Color returns the key for name, assigning the next palette entry if the
// name is new.
func (c *RefColors) Color(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key, ok := c.byName[name]; ok {
		return key
	}
	key := Palette[c.next%len(Palette)]
	c.next++
	c.byName[name] = key
	return key
}

// Lookup returns the key for name without assigning one.
func (c *RefColors) Lookup(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.byName[name]
	return key, ok
}

func (c *RefColors) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byName)
}

// fallbackColor colors lanes that no ref owns.
func fallbackColor(lane int) string {
	return Palette[lane%len(Palette)]
}

type refColorsFile struct {
	Next   int               `json:"next"`
	Colors map[string]string `json:"colors"`
}

// Save writes the cache as JSON.
func (c *RefColors) Save(w io.Writer) error {
	c.mu.Lock()
	snapshot := refColorsFile{Next: c.next, Colors: make(map[string]string, len(c.byName))}
	for name, key := range c.byName {
		snapshot.Colors[name] = key
	}
	c.mu.Unlock()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot); err != nil {
		return fmt.Errorf("encode ref colors: %w", err)
	}
	return nil
}

// LoadRefColors reads a cache written by Save. Unknown palette keys are kept
// as-is so a renderer with a larger palette can still use them.
func LoadRefColors(r io.Reader) (*RefColors, error) {
	var snapshot refColorsFile
	if err := json.NewDecoder(r).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("decode ref colors: %w", err)
	}
	c := NewRefColors()
	for name, key := range snapshot.Colors {
		c.byName[name] = key
	}
	c.next = max(snapshot.Next, len(c.byName))
	return c, nil
}
