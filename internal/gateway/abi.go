package gateway

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/pkg/errors"
)

// LoadABI reads a raw ABI JSON array from path, the same input shape
// the teacher's pkg/util.LoadABI took for its router/ERC20 bindings.
func LoadABI(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, errors.Wrapf(err, "read abi file %s", path)
	}
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, errors.Wrapf(err, "parse abi file %s", path)
	}
	return parsed, nil
}

// LoadABIFromHardhatArtifact reads a Hardhat/Foundry build artifact and
// pulls its "abi" field, matching the teacher's
// LoadABIFromHardhatArtifact helper for contracts compiled outside this
// repo.
func LoadABIFromHardhatArtifact(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, errors.Wrapf(err, "read artifact %s", path)
	}
	var artifact struct {
		ABI json.RawMessage `json:"abi"`
	}
	if err := json.Unmarshal(data, &artifact); err != nil {
		return abi.ABI{}, errors.Wrapf(err, "parse artifact %s", path)
	}
	parsed, err := abi.JSON(bytes.NewReader(artifact.ABI))
	if err != nil {
		return abi.ABI{}, errors.Wrapf(err, "parse artifact abi %s", path)
	}
	return parsed, nil
}
