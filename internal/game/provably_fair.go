package game

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
)

// FairSeed commits a round to its randomness before any bet is taken. The
// commitment is published with the round, the server seed only with its
// history record.
type FairSeed struct {
	ServerSeed string `json:"-"`
	ClientSeed string `json:"client_seed"`
	Commitment string `json:"commitment"`
}

func NewFairSeed(clientSeed string) FairSeed {
	server := GenerateSeed()
	return FairSeed{
		ServerSeed: server,
		ClientSeed: clientSeed,
		Commitment: HashCommitment(server),
	}
}

// GenerateSeed creates a cryptographically secure random seed
func GenerateSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HashCommitment creates a SHA256 hash of the seed for commitment
func HashCommitment(seed string) string {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])
}

// HashToUnit maps HMAC-SHA256(serverSeed, "clientSeed:nonce") onto [0, 1)
// using the top 53 bits of the digest.
func HashToUnit(serverSeed, clientSeed string, nonce int) float64 {
	h := hmac.New(sha256.New, []byte(serverSeed))
	fmt.Fprintf(h, "%s:%d", clientSeed, nonce)
	v := binary.BigEndian.Uint64(h.Sum(nil)[:8])
	return float64(v>>11) / (1 << 53)
}

// FairSource is a RandomSource whose n-th draw is HashToUnit(seed, n).
type FairSource struct {
	mu    sync.Mutex
	seed  FairSeed
	nonce int
}

func NewFairSource(seed FairSeed) RandomSource {
	return &FairSource{seed: seed}
}

func (s *FairSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := HashToUnit(s.seed.ServerSeed, s.seed.ClientSeed, s.nonce)
	s.nonce++
	return u
}

// VerifyRound checks a revealed record against its commitment and redraws
// the outcome from the revealed seeds.
func VerifyRound(rec RoundHistoryRecord) bool {
	if rec.ServerSeed == "" || HashCommitment(rec.ServerSeed) != rec.Commitment {
		return false
	}
	bets := make([]Bet, 0, len(rec.Bets))
	for _, s := range rec.Bets {
		bets = append(bets, Bet{ID: s.BetID, UserID: s.UserID, Stake: s.Stake, Side: s.Side, Color: s.Color})
	}
	src := NewFairSource(FairSeed{ServerSeed: rec.ServerSeed, ClientSeed: rec.RoundID})
	redrawn, err := Draw(rec.Game, src, bets)
	if err != nil {
		return false
	}
	return sameOutcome(redrawn, rec.Outcome)
}
