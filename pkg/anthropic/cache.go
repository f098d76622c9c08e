package anthropic

// BuildCachedSystemBlocks returns the system prompt as a single block with
// an ephemeral cache breakpoint, so repeated extraction calls within the TTL
// reuse the cached prefix.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{{Text: text, CacheControl: &CacheControl{TTL: ttl}}}
}
