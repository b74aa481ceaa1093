package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/api"
	"github.com/uhyunpark/hyperswap/pkg/asset"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/order"
)

func main() {
	cfg := params.LoadFromEnv("")
	if err := cfg.Validate(); err != nil {
		fail("config", err)
	}
	domain := cfg.EIP712Domain()
	eip712 := crypto.NewEIP712Signer(domain)

	// Step 1: Load the maker key, or generate one
	maker, err := loadOrGenerate(os.Getenv("SIGNER_KEY"))
	if err != nil {
		fail("maker key", err)
	}
	fmt.Printf("Maker: %s\n", maker.Address().Hex())
	if os.Getenv("SIGNER_KEY") == "" {
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n", maker.PrivateKeyHex())
	}
	fmt.Println()

	// Step 2: List one NFT for a fixed token price
	salt, err := crypto.GenerateSalt()
	if err != nil {
		fail("salt", err)
	}
	nft := common.HexToAddress(getEnv("SAMPLE_NFT", "0x00000000000000000000000000000000000000a9"))
	token := common.HexToAddress(cfg.Node.DevnetToken)
	price := big.NewInt(100)
	o := &order.Order{
		Maker:      maker.Address(),
		SellAssets: []asset.Asset{asset.NonFungible(nft, big.NewInt(7), true)},
		BuyAssets:  []asset.Asset{asset.Fungible(token, price, price)},
		Salt:       salt,
		Mode:       order.ModeFixed,
	}
	fmt.Println("Order:")
	fmt.Printf("  Sell: %s\n", o.SellAssets[0])
	fmt.Printf("  Buy:  %s\n", o.BuyAssets[0])
	fmt.Printf("  Mode: %s\n\n", o.Mode)

	// Step 3: Sign with EIP-712
	hash, err := order.Hash(eip712, o)
	if err != nil {
		fail("hash", err)
	}
	sig, err := order.Sign(eip712, maker, o)
	if err != nil {
		fail("sign", err)
	}
	typed, err := order.TypedDataJSON(eip712, o)
	if err != nil {
		fail("typed data", err)
	}
	fmt.Printf("Order hash: %s\n", hash.Hex())
	fmt.Printf("Signature:  0x%x\n\n", sig)
	fmt.Println("Typed data (eth_signTypedData_v4):")
	fmt.Println(typed)
	fmt.Println()

	// Step 4: Verify
	recovered, err := order.RecoverSigner(eip712, o, sig)
	if err != nil {
		fail("recover", err)
	}
	if recovered != o.Maker {
		fmt.Println("✗ Signature INVALID")
		os.Exit(1)
	}
	fmt.Println("✓ Signature VALID")
	fmt.Printf("  Signer: %s\n\n", recovered.Hex())

	// Step 5: A buyer's signed call filling the order
	buyer, err := crypto.GenerateKey()
	if err != nil {
		fail("buyer key", err)
	}
	deadline := uint64(time.Now().Add(10 * time.Minute).Unix())
	call, err := api.NewSignedCall(buyer, domain.ChainID, domain.VerifyingContract, api.CallBuy,
		api.BuyPayload{Order: o, Signature: sig}, nil, deadline)
	if err != nil {
		fail("sign call", err)
	}
	body, err := json.MarshalIndent(call, "", "  ")
	if err != nil {
		fail("marshal call", err)
	}

	fmt.Printf("To fill this order as %s:\n", buyer.Address().Hex())
	fmt.Printf("  POST http://localhost%s/api/v1/calls\n", cfg.Node.APIAddr)
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(body))
}

func loadOrGenerate(hexKey string) (*crypto.Signer, error) {
	if hexKey != "" {
		return crypto.FromPrivateKeyHex(hexKey)
	}
	return crypto.GenerateKey()
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", step, err)
	os.Exit(1)
}
