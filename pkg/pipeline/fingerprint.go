package pipeline

import (
	"encoding/json"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/askiada/go-stepcache/pkg/pipeline/model"
)

// fingerprint digests a step definition's function identifier and argument
// mapping. encoding/json writes map keys in sorted order and step
// references marshal to a fixed {"$step": name} shape, so the digest is
// stable for an unchanged definition and changes whenever the function or
// any argument changes. The step name and queue position stay out of the
// digest: they are already part of the cache key.
func fingerprint(def model.StepDef) (string, error) {
	payload, err := json.Marshal(struct {
		Function string                 `json:"function"`
		Args     map[string]model.Value `json:"args"`
	}{
		Function: def.Function,
		Args:     def.Args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "unable to fingerprint step %s", def.Name)
	}

	return strconv.FormatUint(xxhash.Sum64(payload), 16), nil
}
