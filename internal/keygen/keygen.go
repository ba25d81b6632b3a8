package keygen

import (
	"encoding/hex"
	"errors"
	"fmt"

	"marketplace-wallet/pkg/logger"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
	ErrDerivationFailed = errors.New("key derivation failed")
)

// 单账户充值池走 m/44'/60'/0'/0/index
const coinTypeEther = 60

// Keypair 一次性充值钱包密钥
type Keypair struct {
	Address        string
	PrivateKey     []byte
	PublicKey      string
	DerivationPath string
}

// Generator 充值钱包生成器。所有地址从同一主密钥按索引派生。
type Generator struct {
	master *bip32.Key
}

// New 创建生成器。mnemonic为空时生成一次性熵，
// 池中钱包重启后无法再派生，仅靠库中加密私钥恢复。
func New(mnemonic string) (*Generator, error) {
	if mnemonic == "" {
		entropy, err := bip39.NewEntropy(256)
		if err != nil {
			return nil, err
		}
		mnemonic, err = bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, err
		}
		logger.Warn("No pool mnemonic configured, generated an ephemeral one for this process")
	}

	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, "")
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}

	return &Generator{master: master}, nil
}

// Generate 派生第index个充值钱包。同一助记词同一索引结果确定。
func (g *Generator) Generate(index uint32) (*Keypair, error) {
	purpose, err := g.master.NewChildKey(bip32.FirstHardenedChild + 44)
	if err != nil {
		return nil, ErrDerivationFailed
	}
	coinType, err := purpose.NewChildKey(bip32.FirstHardenedChild + coinTypeEther)
	if err != nil {
		return nil, ErrDerivationFailed
	}
	account, err := coinType.NewChildKey(bip32.FirstHardenedChild + 0)
	if err != nil {
		return nil, ErrDerivationFailed
	}
	change, err := account.NewChildKey(0)
	if err != nil {
		return nil, ErrDerivationFailed
	}
	child, err := change.NewChildKey(index)
	if err != nil {
		return nil, ErrDerivationFailed
	}

	privKey, err := ethcrypto.ToECDSA(child.Key)
	if err != nil {
		return nil, err
	}

	return &Keypair{
		Address:        ethcrypto.PubkeyToAddress(privKey.PublicKey).Hex(),
		PrivateKey:     child.Key,
		PublicKey:      hex.EncodeToString(child.PublicKey().Key),
		DerivationPath: fmt.Sprintf("m/44'/%d'/0'/0/%d", coinTypeEther, index),
	}, nil
}
