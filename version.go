package ffiruntime

// ContractVersion is the version of the ABI contract this runtime speaks.
// Generated scaffolding reports its own version through
// ffi_<namespace>_contract_version and the two must match exactly.
const ContractVersion uint32 = 26

// CheckCompatibleVersion reports whether a library built against contract
// version v can be driven by this runtime.
func CheckCompatibleVersion(v uint32) bool {
	return v == ContractVersion
}
