package player

import "sync"

// Pointer renders replayed pointer activity.
type Pointer interface {
	Move(x, y int)
	Click(x, y int)
}

// Cursor is a Pointer that keeps the last position and a click count, for
// frame rendering and inspection.
type Cursor struct {
	mu     sync.Mutex
	x, y   int
	clicks int
}

func (c *Cursor) Move(x, y int) {
	c.mu.Lock()
	c.x, c.y = x, y
	c.mu.Unlock()
}

func (c *Cursor) Click(x, y int) {
	c.mu.Lock()
	c.x, c.y = x, y
	c.clicks++
	c.mu.Unlock()
}

// Position returns the last pointer position.
func (c *Cursor) Position() (x, y int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.x, c.y
}

// Clicks returns the number of clicks replayed.
func (c *Cursor) Clicks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clicks
}

// Reset returns the cursor to the origin.
func (c *Cursor) Reset() {
	c.mu.Lock()
	c.x, c.y, c.clicks = 0, 0, 0
	c.mu.Unlock()
}
