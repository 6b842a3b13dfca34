package rules

// RegisterBuiltins declares the built-in rule types on a registry. Called
// once at process start.
func RegisterBuiltins(r *Registry) error {
	r.Register(TypeLargeCash, NewLargeCashFactory())
	r.Register(TypeDormantAccount, NewDormantAccountFactory())
	r.Register(TypeVelocity, NewVelocityFactory())
	r.Register(TypeAnomaly, NewAnomalyFactory())

	exprFactory, err := NewExpressionFactory()
	if err != nil {
		return err
	}
	r.Register(TypeExpression, exprFactory)
	return nil
}
