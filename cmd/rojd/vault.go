package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rojlabs/roj/internal/config"
	"github.com/rojlabs/roj/internal/memstore"
	"github.com/rojlabs/roj/internal/vault"
)

// newKeeper builds the credential keeper when a passphrase is configured.
func newKeeper(cfg *config.Config, store *memstore.Store) *vault.Keeper {
	if cfg.Vault.Passphrase == "" {
		return nil
	}
	return vault.NewKeeper(vault.New(cfg.Vault.Passphrase), store)
}

func runVault(args []string) error {
	if len(args) == 0 {
		printVaultUsage()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Vault.Passphrase == "" {
		return fmt.Errorf("vault passphrase is required (set ROJ_VAULT_PASSPHRASE)")
	}

	store, err := memstore.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	keeper := vault.NewKeeper(vault.New(cfg.Vault.Passphrase), store)

	switch args[0] {
	case "list":
		return vaultList(keeper)
	case "set":
		return vaultSet(keeper, args[1:])
	case "get":
		return vaultGet(keeper, args[1:])
	case "delete":
		return vaultDelete(keeper, args[1:])
	default:
		printVaultUsage()
		return fmt.Errorf("unknown vault command: %s", args[0])
	}
}

func printVaultUsage() {
	fmt.Fprintf(os.Stderr, `Usage: rojd vault <command>

Commands:
  list                       List stored credential names
  set <name> --value <str>   Store a string credential
  set <name> --file <path>   Store a file credential
  get <name>                 Retrieve and decrypt a credential
  delete <name>              Delete a credential

Environment:
  ROJ_VAULT_PASSPHRASE       Required. Encryption passphrase.
`)
}

func vaultList(keeper *vault.Keeper) error {
	names, err := keeper.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No credentials stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME")
	for _, name := range names {
		fmt.Fprintln(w, name)
	}
	return w.Flush()
}

func vaultSet(keeper *vault.Keeper, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: rojd vault set <name> --value <str> | --file <path>")
	}
	name := args[0]

	var value []byte
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--value":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for --value")
			}
			i++
			value = []byte(args[i])
		case "--file":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for --file")
			}
			i++
			data, err := os.ReadFile(args[i])
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}
			value = data
		}
	}
	if len(value) == 0 {
		return fmt.Errorf("either --value or --file is required")
	}

	if err := keeper.Put(name, value); err != nil {
		return err
	}
	fmt.Printf("Credential %s stored.\n", name)
	return nil
}

func vaultGet(keeper *vault.Keeper, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: rojd vault get <name>")
	}
	plaintext, err := keeper.Get(args[0])
	if err != nil {
		return err
	}
	os.Stdout.Write(plaintext)
	return nil
}

func vaultDelete(keeper *vault.Keeper, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: rojd vault delete <name>")
	}
	if err := keeper.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Credential %s deleted.\n", args[0])
	return nil
}
