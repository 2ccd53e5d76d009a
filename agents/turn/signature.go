package turn

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/lexcodex/toolrelay/framework"
)

// Signature identifies a call by name and canonical arguments. Map keys are
// sorted at every depth, so argument order never matters.
func Signature(call framework.Call) string {
	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%v", args))
	}
	sum := sha256.Sum256(append([]byte(call.Name+"\x00"), encoded...))
	return hex.EncodeToString(sum[:])
}
