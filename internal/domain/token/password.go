package token

import "github.com/alexedwards/argon2id"

// argon2idParams defines OWASP minimum parameters for Argon2id.
// Memory: 46 MiB, Iterations: 1, Parallelism: 1
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB (OWASP minimum: 46 MiB)
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashPassword returns an Argon2id verifier for the password in PHC format:
// $argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>
func HashPassword(password string) (string, error) {
	return argon2id.CreateHash(password, argon2idParams)
}

// VerifyPassword checks a cleartext password against a stored PHC verifier.
// Any failure, including an unparseable verifier, reports ErrBadCredentials;
// callers never learn whether the principal or the password was wrong.
func VerifyPassword(password, verifier string) error {
	match, err := argon2id.ComparePasswordAndHash(password, verifier)
	if err != nil || !match {
		return ErrBadCredentials
	}
	return nil
}
