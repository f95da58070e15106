// Package registry provides the Go binding for the retrofit
// verification registry contract: calldata building and decoding,
// typed read calls, and event filtering.
package registry

// Method names exposed by the registry contract.
const (
	MethodAddVerifier    = "addVerifier"
	MethodRemoveVerifier = "removeVerifier"
	MethodIsVerifier     = "isVerifier"
	MethodVerifyRetrofit = "verifyRetrofit"
	MethodBatchVerify    = "batchVerify"
	MethodGetRetrofit    = "getRetrofit"
	MethodListIDs        = "listIds"
	MethodTotalRecords   = "totalRecords"
	MethodPause          = "pause"
	MethodUnpause        = "unpause"
	MethodPaused         = "paused"
	MethodVersion        = "version"
	MethodOwner          = "owner"
)

// Event names emitted by the registry contract.
const (
	EventRetrofitVerified  = "RetrofitVerified"
	EventBatchVerification = "BatchVerification"
)

const registryABIJSON = `[
  {"type":"function","name":"addVerifier","stateMutability":"nonpayable",
   "inputs":[{"name":"verifier","type":"address"}],"outputs":[]},
  {"type":"function","name":"removeVerifier","stateMutability":"nonpayable",
   "inputs":[{"name":"verifier","type":"address"}],"outputs":[]},
  {"type":"function","name":"isVerifier","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"authorized","type":"bool"}]},
  {"type":"function","name":"verifyRetrofit","stateMutability":"nonpayable",
   "inputs":[{"name":"record","type":"tuple","components":[
     {"name":"retrofitId","type":"string"},
     {"name":"propertyRef","type":"string"},
     {"name":"energyRef","type":"string"},
     {"name":"ratingBefore","type":"uint8"},
     {"name":"ratingAfter","type":"uint8"},
     {"name":"workTypes","type":"string[]"}
   ]}],"outputs":[]},
  {"type":"function","name":"batchVerify","stateMutability":"nonpayable",
   "inputs":[{"name":"records","type":"tuple[]","components":[
     {"name":"retrofitId","type":"string"},
     {"name":"propertyRef","type":"string"},
     {"name":"energyRef","type":"string"},
     {"name":"ratingBefore","type":"uint8"},
     {"name":"ratingAfter","type":"uint8"},
     {"name":"workTypes","type":"string[]"}
   ]}],"outputs":[]},
  {"type":"function","name":"getRetrofit","stateMutability":"view",
   "inputs":[{"name":"retrofitId","type":"string"}],
   "outputs":[{"name":"record","type":"tuple","components":[
     {"name":"retrofitId","type":"string"},
     {"name":"propertyRef","type":"string"},
     {"name":"energyRef","type":"string"},
     {"name":"ratingBefore","type":"uint8"},
     {"name":"ratingAfter","type":"uint8"},
     {"name":"workTypes","type":"string[]"},
     {"name":"verifier","type":"address"},
     {"name":"timestamp","type":"uint256"},
     {"name":"verified","type":"bool"}
   ]}]},
  {"type":"function","name":"listIds","stateMutability":"view",
   "inputs":[{"name":"offset","type":"uint256"},{"name":"limit","type":"uint256"}],
   "outputs":[{"name":"ids","type":"string[]"}]},
  {"type":"function","name":"totalRecords","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"total","type":"uint256"}]},
  {"type":"function","name":"pause","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"unpause","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"paused","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"stopped","type":"bool"}]},
  {"type":"function","name":"version","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"tag","type":"string"}]},
  {"type":"function","name":"owner","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"account","type":"address"}]},
  {"type":"event","name":"RetrofitVerified","inputs":[
    {"name":"retrofitId","type":"string","indexed":false},
    {"name":"verifier","type":"address","indexed":true},
    {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"BatchVerification","inputs":[
    {"name":"count","type":"uint256","indexed":false},
    {"name":"verifier","type":"address","indexed":true},
    {"name":"timestamp","type":"uint256","indexed":false}]}
]`
