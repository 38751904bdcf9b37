package bulwark

// Version is the current release of the bulwark library.
const Version = "0.1.0"
