package domain

import "time"

// UserWallet is a custodial keypair held on behalf of a chat user.
//
// PrivateKey is stored unencrypted by every WalletRepository implementation.
// The service is custodial: whoever can read the wallets table can move user
// funds.
type UserWallet struct {
	UserID     string
	Address    string // EIP-55 checksummed
	PrivateKey string // hex, no 0x prefix
	CreatedAt  time.Time
}
