package chat

import "hash/fnv"

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "bright", "gentle", "brave", "calm", "swift",
	"silent", "bouncy", "fuzzy", "plucky", "merry", "peppy",
}

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"duckling", "fawn", "lamb", "raccoon", "ferret", "beaver", "seahorse", "dolphin", "narwhal",
	"penguin", "flamingo", "pelican", "sparrow", "robin", "toucan", "parrot",
}

// nickname derives a stable display name such as "swift-otter" from id.
func nickname(id string) string {
	h := fnv.New64a()
	h.Write([]byte(id))
	n := h.Sum64()
	adj := adjectives[n%uint64(len(adjectives))]
	animal := animals[(n/uint64(len(adjectives)))%uint64(len(animals))]
	return adj + "-" + animal
}
