package util

// Window normalizes a 1-based page request and returns the row offset.
// Sizes outside (0, max] fall back to def.
func Window(page, size, def, max int) (p, s, offset int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > max {
		size = def
	}
	return page, size, (page - 1) * size
}
