// Package secrets resolves per-resource settings and credentials from an
// ordered list of sources.
//
// Keys are environment-style names such as QRMI_IONQ_CLOUD_API_KEY. Each
// source is asked for the resource-scoped form first (FRESNEL_<KEY>) and
// the bare key second, and the first source holding a non-empty value
// wins. The default order is the process environment, ~/.pasqal/config,
// /etc/slurm/qrmi_config.json, then Vault and a Kubernetes Secret when
// configured.
//
// Values are never logged.
package secrets
