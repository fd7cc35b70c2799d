package state

var (
	accountPrefix    = []byte("account/")
	commitmentPrefix = []byte("commitment/")
	custodyPrefix    = []byte("custody/")
	burnedSupplyKey  = []byte("supply/burned")
	genesisKey       = []byte("meta/genesis")
)

func prefixedKey(prefix []byte, id []byte) []byte {
	key := make([]byte, len(prefix)+len(id))
	copy(key, prefix)
	copy(key[len(prefix):], id)
	return key
}
