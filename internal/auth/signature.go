package auth

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrBadSignature is returned when a signature cannot be decoded or does not match the claimed address.
var ErrBadSignature = errors.New("bad signature")

// SignInMessage is the text a wallet signs with personal_sign to prove ownership of address.
func SignInMessage(address common.Address, nonce string) string {
	return fmt.Sprintf("Sign in to basepoll\n\nAddress: %s\nNonce: %s", address.Hex(), nonce)
}

// RecoverAddress returns the account that produced a personal_sign signature over message.
func RecoverAddress(message, signatureHex string) (common.Address, error) {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrBadSignature
	}
	// wallets emit v as 27/28
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, ErrBadSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature checks that signatureHex over message was made by address.
func VerifySignature(address common.Address, message, signatureHex string) error {
	signer, err := RecoverAddress(message, signatureHex)
	if err != nil {
		return err
	}
	if signer != address {
		return ErrBadSignature
	}
	return nil
}
