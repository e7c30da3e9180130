package vault

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rojlabs/roj/internal/memstore"
)

// Keeper is the named-credential layer over the vault: plaintext in,
// ciphertext to the store, plaintext back out only on demand.
type Keeper struct {
	vault *Vault
	store *memstore.Store
}

func NewKeeper(v *Vault, store *memstore.Store) *Keeper {
	return &Keeper{vault: v, store: store}
}

// Put encrypts and stores a credential under its name, replacing any
// previous value of the same name.
func (k *Keeper) Put(name string, plaintext []byte) error {
	ciphertext, nonce, err := k.vault.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", name, err)
	}

	existing, err := k.store.GetSecretByName(name)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	if existing != nil {
		id = existing.ID
	}

	return k.store.SaveSecret(&memstore.Secret{
		ID:    id,
		Name:  name,
		Value: ciphertext,
		Nonce: nonce,
	})
}

// Get decrypts a stored credential. Returns an error when absent.
func (k *Keeper) Get(name string) ([]byte, error) {
	sec, err := k.store.GetSecretByName(name)
	if err != nil {
		return nil, err
	}
	if sec == nil {
		return nil, fmt.Errorf("secret %s not found", name)
	}
	plaintext, err := k.vault.Decrypt(sec.Value, sec.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", name, err)
	}
	return plaintext, nil
}

// List returns stored credential names.
func (k *Keeper) List() ([]string, error) {
	secrets, err := k.store.ListSecrets()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(secrets))
	for _, sec := range secrets {
		names = append(names, sec.Name)
	}
	return names, nil
}

// Delete removes a credential by name. Unknown names are a no-op.
func (k *Keeper) Delete(name string) error {
	sec, err := k.store.GetSecretByName(name)
	if err != nil || sec == nil {
		return err
	}
	return k.store.DeleteSecret(sec.ID)
}
