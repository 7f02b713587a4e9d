package directory

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "swift", "bright", "bold", "calm", "gentle",
	"brave", "cool", "epic", "silent", "noisy", "bouncy", "fuzzy", "plucky", "merry", "glad",
}

var nouns = []string{
	"kitten", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster", "beaver", "narwhal",
	"penguin", "flamingo", "pelican", "sparrow", "toucan", "eagle", "tiger", "river", "storm", "cloud",
	"flame", "moon", "star", "wave", "wind", "comet", "orbit", "nebula", "canyon", "ridge",
}

// GenerateRoomCode returns a human-readable code of the form
// adjective-noun-number with number in [0, 100).
func GenerateRoomCode() string {
	return fmt.Sprintf("%s-%s-%d",
		adjectives[randomIndex(len(adjectives))],
		nouns[randomIndex(len(nouns))],
		randomIndex(100),
	)
}

func randomIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(fmt.Sprintf("directory: random index: %v", err))
	}
	return int(v.Int64())
}
