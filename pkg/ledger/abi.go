package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// PollsABI is the ABI of the deployed poll contract.
const PollsABI = `[{"inputs":[{"internalType":"string","name":"_question","type":"string"},{"internalType":"string[]","name":"_options","type":"string[]"},{"internalType":"uint32","name":"deadline","type":"uint32"}],"name":"createPoll","outputs":[],"stateMutability":"nonpayable","type":"function"},{"inputs":[{"internalType":"uint32","name":"_pollId","type":"uint32"}],"name":"currentResult","outputs":[{"internalType":"uint32[]","name":"","type":"uint32[]"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"uint32","name":"","type":"uint32"},{"internalType":"address","name":"","type":"address"}],"name":"hasVoted","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"pollId","outputs":[{"internalType":"uint32","name":"","type":"uint32"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"uint32","name":"","type":"uint32"}],"name":"polls","outputs":[{"internalType":"string","name":"question","type":"string"},{"internalType":"uint32","name":"startTime","type":"uint32"},{"internalType":"uint32","name":"endTime","type":"uint32"},{"internalType":"bool","name":"exist","type":"bool"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"uint32","name":"_pollId","type":"uint32"},{"internalType":"string","name":"_option","type":"string"}],"name":"vote","outputs":[],"stateMutability":"nonpayable","type":"function"},{"inputs":[{"internalType":"uint32","name":"","type":"uint32"},{"internalType":"string","name":"","type":"string"}],"name":"votes","outputs":[{"internalType":"uint32","name":"","type":"uint32"}],"stateMutability":"view","type":"function"}]`

// Contract entry points users may sign.
const (
	MethodCreatePoll = "createPoll"
	MethodVote       = "vote"
)

var pollsABI = mustParseABI(PollsABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse poll abi: %v", err))
	}
	return parsed
}

// PackCreatePoll encodes createPoll calldata. Arguments are passed through as given.
func PackCreatePoll(question string, options []string, deadlineMinutes uint32) ([]byte, error) {
	return pollsABI.Pack(MethodCreatePoll, question, options, deadlineMinutes)
}

// PackVote encodes vote calldata. The option label is passed through as given.
func PackVote(pollID uint32, option string) ([]byte, error) {
	return pollsABI.Pack(MethodVote, pollID, option)
}
